package service

import (
	"errors"
	"fmt"

	"github.com/xela07ax/mission-control/internal/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUsernameTaken      = fmt.Errorf("username already taken: %w", ErrUserExists)
	ErrEmailTaken         = fmt.Errorf("email already registered: %w", ErrUserExists)
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSelfAction         = errors.New("action is not allowed on own account")
	ErrRoleNotAllowed     = errors.New("role requires an administrator")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentKeyNotFound   = errors.New("agent key not found")
	ErrInvalidAgentKey    = domain.ErrInvalidAgentKey
)
