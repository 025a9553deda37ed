package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/infra/auth"
	"github.com/xela07ax/mission-control/internal/validation"
)

// Предел тела JSON-запроса
const maxBodyBytes = 1 << 20

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Envelope — общий формат ответа API.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteError пишет ошибку в общем конверте; используется и роутером (404, паника).
func WriteError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, Envelope{Error: &ErrorBody{Code: code, Message: message, Details: details}})
}

// decodeJSON читает тело в dst и прогоняет валидацию. false — ответ уже записан.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return false
	}
	if len(body) == 0 {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", "request body is empty")
		return false
	}
	return decodeBytes(w, body, dst)
}

func decodeBytes(w http.ResponseWriter, body []byte, dst any) bool {
	if err := json.Unmarshal(body, dst); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return false
	}
	if msg, ok := validation.Struct(dst); !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", msg)
		return false
	}
	return true
}

// actorFrom собирает Actor из claims и заголовков запроса.
func actorFrom(r *http.Request) service.Actor {
	a := service.Actor{IP: audit.ClientIP(r), UserAgent: r.UserAgent()}
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		a.UserID, a.Username, a.Role = c.UserID, c.Username, c.Role
	}
	return a
}

func internalError(w http.ResponseWriter, code, message string, err error) {
	WriteError(w, http.StatusInternalServerError, code, message, fmt.Sprint(err))
}
