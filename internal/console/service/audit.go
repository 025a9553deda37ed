package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/mission-control/internal/audit"
)

// StatsWindow — окно сводки /api/audit-logs/stats.
const StatsWindow = 24 * time.Hour

// AuditLogProvider описывает контракт чтения журнала.
type AuditLogProvider interface {
	Query(ctx context.Context, f audit.Filter) (audit.Page, error)
	Stats(ctx context.Context, since time.Time) (audit.Stats, error)
}

type AuditService struct {
	store AuditLogProvider
	now   func() time.Time
}

func NewAuditService(store AuditLogProvider) *AuditService {
	return &AuditService{store: store, now: time.Now}
}

// Summary — сводка за окно; все три результата присутствуют, даже нулевые.
type Summary struct {
	Total    int                  `json:"total"`
	ByAction map[audit.Action]int `json:"byAction"`
	ByResult map[audit.Result]int `json:"byResult"`
}

func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) (audit.Page, error) {
	page, err := s.store.Query(ctx, f)
	if err != nil {
		return audit.Page{}, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return page, nil
}

func (s *AuditService) Last24Hours(ctx context.Context) (Summary, error) {
	st, err := s.store.Stats(ctx, s.now().Add(-StatsWindow))
	if err != nil {
		return Summary{}, fmt.Errorf("audit_service: failed to compute stats: %w", err)
	}
	sum := Summary{
		Total:    st.Total,
		ByAction: st.ByAction,
		ByResult: map[audit.Result]int{
			audit.ResultSuccess: 0,
			audit.ResultFailure: 0,
			audit.ResultDenied:  0,
		},
	}
	for r, n := range st.ByResult {
		sum.ByResult[r] = n
	}
	return sum, nil
}
