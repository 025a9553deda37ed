package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout — шлюз не ответил за отведённое время. Это отдельный исход, не успех и не "тихий" сбой.
	ErrTimeout = errors.New("gateway did not respond in time")
	// ErrUnavailable — бинарь CLI не найден или шлюз недоступен.
	ErrUnavailable = errors.New("gateway is unavailable")
	// ErrCircuitOpen — предохранитель разомкнут после серии ошибок.
	ErrCircuitOpen = errors.New("gateway circuit breaker is open")
	// ErrRateLimited — вызов отклонён локальным лимитером.
	ErrRateLimited = errors.New("gateway rate limit exceeded")
)

// CommandError — CLI отработал, но с ошибкой.
type CommandError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Code отдаёт машинный код ошибки для HTTP-ответа.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "GATEWAY_TIMEOUT"
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrRateLimited):
		return "GATEWAY_UNAVAILABLE"
	}
	return "GATEWAY_ERROR"
}
