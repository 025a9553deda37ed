package audit

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter — условия выборки. Все поля опциональны и объединяются через AND.
type Filter struct {
	UserID    string
	Actions   []Action
	Result    Result
	StartDate *time.Time // Включительно
	EndDate   *time.Time // Включительно
	Search    string     // Подстрока в resource/details без учёта регистра
	Limit     int
	Offset    int
}

type Page struct {
	Entries []Entry `json:"logs"`
	Count   int     `json:"count"`
	Total   int     `json:"total"`
	HasMore bool    `json:"hasMore"`
}

// Stats — сводка по окну времени.
type Stats struct {
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	ByAction map[Action]int `json:"byAction"`
	ByResult map[Result]int `json:"byResult"`
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.ToLower(strings.TrimSpace(f.Search))
	return f
}

func (f Filter) match(e *Entry) bool {
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.Search != "" &&
		!strings.Contains(strings.ToLower(e.Resource), f.Search) &&
		!strings.Contains(strings.ToLower(e.Details), f.Search) {
		return false
	}
	return true
}

// Query возвращает страницу записей, самые новые первыми (по порядку вставки).
// Limit выше MaxLimit молча обрезается.
func (s *Store) Query(ctx context.Context, f Filter) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	f = f.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	page := Page{Entries: make([]Entry, 0, min(f.Limit, len(s.entries)))}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := &s.entries[i]
		if !f.match(e) {
			continue
		}
		if page.Total >= f.Offset && len(page.Entries) < f.Limit {
			page.Entries = append(page.Entries, *e)
		}
		page.Total++
	}
	page.Count = len(page.Entries)
	page.HasMore = f.Offset+page.Count < page.Total
	return page, nil
}

// Stats считает записи с Timestamp не раньше since по действиям и результатам.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Since:    since.UTC(),
		ByAction: make(map[Action]int),
		ByResult: make(map[Result]int),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := &s.entries[i]
		if e.Timestamp.Before(since) {
			break // Дальше только старше
		}
		st.Total++
		st.ByAction[e.Action]++
		st.ByResult[e.Result]++
	}
	return st, nil
}
