package config

import (
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/eduboard/leaderboard-api/internal/classify"
)

type PyrusConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	Login       string        `mapstructure:"login"`
	SecurityKey string        `mapstructure:"security_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// FormSettings binds one remote form id to its field mapping.
type FormSettings struct {
	ID     int                   `mapstructure:"id"`
	Fields classify.FieldMapping `mapstructure:"fields"`
}

type FormsConfig struct {
	Retention FormSettings `mapstructure:"retention"`
	Trial     FormSettings `mapstructure:"trial"`
}

type SyncConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Interval      time.Duration `mapstructure:"interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	OutdatedAfter time.Duration `mapstructure:"outdated_after"`
}

// AdminConfig describes the bootstrap administrator seeded at startup.
// Without it the admin tier is only reachable through manual SQL, since
// signup always creates viewers. Seeding is skipped when email or
// password is empty.
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	FullName string `mapstructure:"full_name"`
}

func (a AdminConfig) Enabled() bool {
	return a.Email != "" && a.Password != ""
}

type Config struct {
	DatabaseURL string         `mapstructure:"database_url"`
	ServerPort  string         `mapstructure:"server_port"`
	JWTSecret   string         `mapstructure:"jwt_secret"`
	Admin       AdminConfig    `mapstructure:"admin"`
	Pyrus       PyrusConfig    `mapstructure:"pyrus"`
	Forms       FormsConfig    `mapstructure:"forms"`
	Sync        SyncConfig     `mapstructure:"sync"`
	Rules       classify.Rules `mapstructure:"rules"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	applyDefaults(&config)

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.Pyrus.Login == "" || config.Pyrus.SecurityKey == "" {
		log.Fatal("Pyrus credentials must be set in the config file")
	}

	return &config
}

// applyDefaults fills in everything the file may omit. The form ids, field
// mappings and rule lists default to the live production setup so a minimal
// config file only needs credentials.
func applyDefaults(config *Config) {
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.Pyrus.APIURL == "" {
		config.Pyrus.APIURL = "https://api.pyrus.com/v4"
	}
	if config.Pyrus.Timeout == 0 {
		config.Pyrus.Timeout = 30 * time.Second
	}
	if config.Pyrus.MaxRetries == 0 {
		config.Pyrus.MaxRetries = 3
	}

	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 200
	}
	if config.Sync.Interval == 0 {
		config.Sync.Interval = time.Hour
	}
	if config.Sync.StaleAfter == 0 {
		config.Sync.StaleAfter = 2 * time.Hour
	}
	if config.Sync.OutdatedAfter == 0 {
		config.Sync.OutdatedAfter = 24 * time.Hour
	}

	if config.Forms.Retention.ID == 0 {
		config.Forms.Retention = FormSettings{
			ID: 2304918,
			Fields: classify.FieldMapping{
				TeacherFieldID:  8,
				BranchFieldID:   5,
				StudyingFieldID: 64,
				StatusFieldID:   7,
			},
		}
	}
	if config.Forms.Trial.ID == 0 {
		config.Forms.Trial = FormSettings{
			ID: 792300,
			Fields: classify.FieldMapping{
				TeacherFieldID:  142,
				BranchFieldID:   226,
				StudyingFieldID: 187,
				StatusFieldID:   228,
			},
		}
	}

	if len(config.Rules.ValidStatuses) == 0 {
		config.Rules.ValidStatuses = []string{"PE Start", "PE Future", "PE 5"}
	}
	if len(config.Rules.TeacherExclusions) == 0 {
		config.Rules.TeacherExclusions = map[classify.FormKind][]string{
			classify.Retention: {
				"Валеев", "Якупова", "Булаева", "Пасечникова", "Михеева",
				"Летуновская", "Кригер", "Кораблева", "Рожкова", "Чекунова",
				"Ремпович", "Себов", "Худякова", "Костырева",
			},
			classify.Trial: {"Ремпович"},
		}
	}
	if len(config.Rules.DroppedBranches) == 0 {
		// Closed locations removed from the report entirely.
		config.Rules.DroppedBranches = []classify.BranchRule{
			{Contains: []string{"макеева", "15"}},
			{Contains: []string{"коммуны", "106/1"}},
		}
	}
	if len(config.Rules.CompetitionBranches) == 0 {
		config.Rules.CompetitionBranches = []classify.BranchRule{
			{Contains: []string{"макеева", "15"}},
			{Contains: []string{"коммуны", "106/1"}},
			{Contains: []string{"славы", "30"}},
			{Contains: []string{"online"}},
		}
	}
	if len(config.Rules.BranchAliases) == 0 {
		config.Rules.BranchAliases = []classify.BranchAlias{
			{Contains: []string{"коммунистический", "22"}, Name: "Копейск"},
		}
	}
}
