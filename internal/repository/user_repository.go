package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/eduboard/leaderboard-api/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, email, password, fullName string, roles []models.UserRole) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	EnsureAdmin(ctx context.Context, email, password, fullName string) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (u *userRepository) CreateUser(ctx context.Context, email, password, fullName string, roles []models.UserRole) (models.User, error) {
	if len(roles) == 0 {
		roles = []models.UserRole{models.RoleViewer}
	}
	if !models.IsValidRoleList(roles) {
		return models.User{}, errors.New("invalid roles")
	}
	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))

	fullName = strings.TrimSpace(fullName)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		IsActive:     true,
		Roles:        normalized,
	}

	const query = `
		INSERT INTO users (email, full_name, password_hash, is_active, roles)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err = u.db.QueryRowContext(ctx, query,
		user.Email, user.FullName, user.PasswordHash, user.IsActive,
		pq.Array(toStringSlice(user.Roles)),
	).Scan(&user.ID)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (u *userRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	var user models.User
	var roles pq.StringArray

	const query = `
		SELECT id, email, full_name, password_hash, is_active, roles
		FROM users
		WHERE email = $1 AND deleted_at IS NULL`
	err := u.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsActive,
		&roles,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, errors.New("invalid credentials")
		}
		return models.User{}, err
	}

	user.Roles = models.EnsureDefaultRole(toUserRoleSlice(roles))
	if !models.IsValidRoleList(user.Roles) {
		return models.User{}, errors.New("user has invalid roles")
	}

	if !user.IsActive {
		return models.User{}, errors.New("user is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, errors.New("invalid credentials")
	}

	return user, nil
}

// EnsureAdmin seeds the bootstrap administrator so the sync trigger is
// reachable without manual SQL. An existing account with the same email is
// promoted and reactivated; its password is left alone.
func (u *userRepository) EnsureAdmin(ctx context.Context, email, password, fullName string) error {
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		fullName = "Administrator"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	roles := []models.UserRole{models.RoleAdmin, models.RoleViewer}

	const query = `
		INSERT INTO users (email, full_name, password_hash, is_active, roles)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (email) DO UPDATE SET
			roles      = (SELECT array_agg(DISTINCT r) FROM unnest(users.roles || excluded.roles) AS r),
			is_active  = TRUE,
			deleted_at = NULL,
			updated_at = now()`
	_, err = u.db.ExecContext(ctx, query, email, fullName, string(hash), pq.Array(toStringSlice(roles)))
	return err
}

func toStringSlice(roles []models.UserRole) []string {
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		result = append(result, string(role))
	}
	return result
}

func toUserRoleSlice(roles []string) []models.UserRole {
	result := make([]models.UserRole, 0, len(roles))
	for _, role := range roles {
		result = append(result, models.UserRole(role))
	}
	return models.NormalizeRoles(result)
}
