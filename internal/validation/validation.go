// Package validation держит общий экземпляр validator с тегами проекта.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xela07ax/mission-control/internal/audit"
)

var instance = newValidator()

var (
	usernameRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	heartbeatRe = regexp.MustCompile(`^[1-9][0-9]*[smhd]$`) // 30m, 1h, 2d
)

// Форматы дат, которые принимает API журнала
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// customHints дописывает пояснение к стандартному сообщению validator.
var customHints = map[string]func(fe validator.FieldError) string{
	"username": func(validator.FieldError) string {
		return "only letters, digits, underscores and hyphens are allowed"
	},
	"heartbeat_interval": func(fe validator.FieldError) string {
		return fmt.Sprintf("%q is not a duration like 30m, 1h or 1d", fe.Value())
	},
	"audit_action": func(fe validator.FieldError) string {
		return fmt.Sprintf("unknown action %q", fe.Value())
	},
	"iso8601": func(fe validator.FieldError) string {
		return fmt.Sprintf("%q is not an ISO 8601 date", fe.Value())
	},
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Теги и функции не пустые, ошибки быть не может
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("heartbeat_interval", func(fl validator.FieldLevel) bool {
		return heartbeatRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("audit_action", func(fl validator.FieldLevel) bool {
		return audit.Action(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := ParseTime(fl.Field().String())
		return err == nil
	})
	return v
}

// Struct проверяет структуру; при ошибке возвращает сообщение и false.
func Struct(
	v any,
) (string, bool) {
	if err := instance.Struct(v); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err.Error(), false
		}
		return formatErrors(validationErrors), false
	}

	return "", true
}

func formatErrors(
	errs validator.ValidationErrors,
) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msg := fe.Error()
		if fn, ok := customHints[fe.Tag()]; ok {
			msg = fmt.Sprintf("%s: %s", msg, fn(fe))
		}
		msgs = append(msgs, msg)
	}

	return strings.Join(msgs, "; ")
}

// ParseTime разбирает дату ISO 8601. Значения без зоны считаются UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 date %q", s)
}

// Instance возвращает общий validator для регистрации дополнительных правил.
func Instance() *validator.Validate {
	return instance
}
