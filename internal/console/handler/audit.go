package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/validation"
)

type AuditService interface {
	FetchLogs(ctx context.Context, f audit.Filter) (audit.Page, error)
	Last24Hours(ctx context.Context) (service.Summary, error)
}

type AuditHandler struct {
	service AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-handler")}
}

// auditQuery — query-параметры /api/audit-logs до разбора.
type auditQuery struct {
	UserID    string   `validate:"omitempty,max=100"`
	Actions   []string `validate:"dive,audit_action"`
	Result    string   `validate:"omitempty,oneof=success failure denied"`
	StartDate string   `validate:"omitempty,iso8601"`
	EndDate   string   `validate:"omitempty,iso8601"`
	Search    string   `validate:"omitempty,max=200"`
	Limit     *int     `validate:"omitempty,min=1"` // Больше MaxLimit урезается в Filter, не отклоняется
	Offset    *int     `validate:"omitempty,min=0"`
}

// GetLogs обрабатывает GET /api/audit-logs.
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	f, details, ok := parseAuditQuery(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", details)
		return
	}

	page, err := h.service.FetchLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to query audit logs", zap.Error(err))
		internalError(w, "QUERY_FAILED", "Failed to query audit logs", err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// GetStats обрабатывает GET /api/audit-logs/stats.
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Last24Hours(r.Context())
	if err != nil {
		h.logger.Error("failed to get audit stats", zap.Error(err))
		internalError(w, "STATS_FAILED", "Failed to get audit log statistics", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"last24Hours": sum})
}

func parseAuditQuery(r *http.Request) (audit.Filter, string, bool) {
	v := r.URL.Query()
	q := auditQuery{
		UserID:    v.Get("userId"),
		Result:    v.Get("result"),
		StartDate: v.Get("startDate"),
		EndDate:   v.Get("endDate"),
		Search:    v.Get("search"),
	}
	// action=user.login,agent.stop
	for _, a := range strings.Split(v.Get("action"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			q.Actions = append(q.Actions, a)
		}
	}

	var err error
	if q.Limit, err = optionalInt(v.Get("limit")); err != nil {
		return audit.Filter{}, "limit must be an integer", false
	}
	if q.Offset, err = optionalInt(v.Get("offset")); err != nil {
		return audit.Filter{}, "offset must be an integer", false
	}
	if msg, ok := validation.Struct(q); !ok {
		return audit.Filter{}, msg, false
	}

	f := audit.Filter{UserID: q.UserID, Result: audit.Result(q.Result), Search: q.Search}
	for _, a := range q.Actions {
		f.Actions = append(f.Actions, audit.Action(a))
	}
	if q.Limit != nil {
		f.Limit = *q.Limit
	}
	if q.Offset != nil {
		f.Offset = *q.Offset
	}
	// Формат уже проверен тегом iso8601
	if q.StartDate != "" {
		t, _ := validation.ParseTime(q.StartDate)
		f.StartDate = &t
	}
	if q.EndDate != "" {
		t, _ := validation.ParseTime(q.EndDate)
		f.EndDate = &t
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return audit.Filter{}, "startDate must not be after endDate", false
	}
	return f, "", true
}

func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
