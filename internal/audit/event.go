package audit

import "time"

// Action — закрытый перечень типов действий, попадающих в журнал аудита.
type Action string

const (
	ActionLogin        Action = "user.login"
	ActionLoginFailed  Action = "user.login.failed"
	ActionLogout       Action = "user.logout"
	ActionRoleChanged  Action = "user.role.changed"
	ActionUserCreated  Action = "user.created"
	ActionUserUpdated  Action = "user.updated"
	ActionUserDeleted  Action = "user.deleted"
	ActionAgentStart   Action = "agent.start"
	ActionAgentStop    Action = "agent.stop"
	ActionAgentRestart Action = "agent.restart"
	ActionAgentMessage Action = "agent.message"
	ActionKeyCreated   Action = "agent_key.created"
	ActionKeyRevoked   Action = "agent_key.revoked"
	ActionKeyDeleted   Action = "agent_key.deleted"
	ActionAPICall      Action = "api.call"
	ActionError        Action = "error"
	ActionUnknown      Action = "unknown" // Fallback для всего, что не распознали
)

var knownActions = map[Action]struct{}{
	ActionLogin:        {},
	ActionLoginFailed:  {},
	ActionLogout:       {},
	ActionRoleChanged:  {},
	ActionUserCreated:  {},
	ActionUserUpdated:  {},
	ActionUserDeleted:  {},
	ActionAgentStart:   {},
	ActionAgentStop:    {},
	ActionAgentRestart: {},
	ActionAgentMessage: {},
	ActionKeyCreated:   {},
	ActionKeyRevoked:   {},
	ActionKeyDeleted:   {},
	ActionAPICall:      {},
	ActionError:        {},
	ActionUnknown:      {},
}

// Valid сообщает, входит ли действие в закрытый перечень.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// Actions возвращает все известные действия.
func Actions() []Action {
	return []Action{
		ActionLogin, ActionLoginFailed, ActionLogout, ActionRoleChanged,
		ActionUserCreated, ActionUserUpdated, ActionUserDeleted,
		ActionAgentStart, ActionAgentStop, ActionAgentRestart, ActionAgentMessage,
		ActionKeyCreated, ActionKeyRevoked, ActionKeyDeleted,
		ActionAPICall, ActionError, ActionUnknown,
	}
}

// Result — итог действия. Перечень закрыт: success / failure / denied.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied" // RBAC отказ (403)
)

// Valid сообщает, входит ли результат в закрытый перечень.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultDenied:
		return true
	}
	return false
}

// Entry — неизменяемая запись журнала. После Append её никто не меняет.
type Entry struct {
	ID        string    `json:"id"`        // UUID записи
	Seq       uint64    `json:"seq"`       // Порядковый номер вставки (источник правды для "newest first")
	Timestamp time.Time `json:"timestamp"` // Момент создания, не убывает в порядке вставки

	// Кто делал. nil — неаутентифицированное или системное действие
	UserID   *string `json:"userId"`
	Username *string `json:"username"`

	Action   Action `json:"action"`
	Resource string `json:"resource"` // "user:<id>", "agent:<id>", "auth"
	Result   Result `json:"result"`
	Details  string `json:"details,omitempty"` // Уже очищено от секретов

	// Происхождение запроса
	IPAddress *string `json:"ipAddress"`
	UserAgent *string `json:"userAgent,omitempty"`
}

// Input — описание события от вызывающего кода. Store сам назначает ID, Seq и Timestamp.
type Input struct {
	UserID    *string
	Username  *string
	Action    Action
	Resource  string
	Result    Result
	Details   string
	IPAddress *string
	UserAgent *string

	// Заполняются только при импорте/в тестах; иначе назначаются автоматически
	ID        string
	Timestamp time.Time
}

// Actor собирает пару указателей для Input из id и имени. Пустой id означает системное действие.
func Actor(id, username string) (*string, *string) {
	if id == "" {
		return nil, nil
	}
	return &id, &username
}

// StrPtr возвращает nil для пустой строки.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
