package service

import (
	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
)

// Actor — кто и откуда вызвал операцию. Из него собираются поля записи аудита.
// Пустой UserID — анонимный вызов (логин, саморегистрация) или системный (CLI).
type Actor struct {
	UserID    string
	Username  string
	Role      domain.Role
	IP        string
	UserAgent string
}

// SystemActor — операции из командной строки.
var SystemActor = Actor{Username: "system"}

// As подменяет личность, сохраняя происхождение запроса.
func (a Actor) As(u *domain.User) Actor {
	a.UserID, a.Username, a.Role = u.ID, u.Username, u.Role
	return a
}

func (a Actor) input(action audit.Action, resource string, result audit.Result, details string) audit.Input {
	in := audit.Input{
		Action:    action,
		Resource:  resource,
		Result:    result,
		Details:   details,
		IPAddress: audit.StrPtr(a.IP),
		UserAgent: audit.StrPtr(a.UserAgent),
	}
	in.UserID, in.Username = audit.Actor(a.UserID, a.Username)
	return in
}

func userResource(id string) string  { return "user:" + id }
func agentResource(id string) string { return "agent:" + id }
