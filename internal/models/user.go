package models

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	Roles        []UserRole `json:"roles"`
}
