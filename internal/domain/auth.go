package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin    Role = "admin"    // Управление пользователями и журнал аудита
	RoleOperator Role = "operator" // Управление агентами
	RoleViewer   Role = "viewer"   // Только чтение
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

func Roles() []Role { return []Role{RoleAdmin, RoleOperator, RoleViewer} }

// CustomClaims — полезная нагрузка JWT. Личность подписчика websocket
// устанавливается из них один раз при рукопожатии.
type CustomClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username" validate:"required_without=Email,max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     Role   `json:"role" validate:"omitempty,oneof=admin operator viewer"`
}

type UpdateRoleRequest struct {
	Role Role `json:"role" validate:"required,oneof=admin operator viewer"`
}

type TokenResponse struct {
	Token     string     `json:"token"`
	TokenType string     `json:"tokenType"` // Всегда "Bearer"
	ExpiresIn string     `json:"expiresIn"`
	User      UserPublic `json:"user"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"` // Только для хранилища, наружу отдаём UserPublic
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserPublic — то, что можно отдавать на фронт.
type UserPublic struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) Public() UserPublic {
	return UserPublic{ID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt}
}
