package domain

// GatewaySession — элемент sessions.recent из `openclaw gateway call status --json`.
type GatewaySession struct {
	AgentID         string   `json:"agentId"`
	Key             string   `json:"key"`
	Kind            string   `json:"kind"` // direct | group
	SessionID       string   `json:"sessionId"`
	UpdatedAt       int64    `json:"updatedAt"` // Unix ms
	Age             int64    `json:"age"`       // ms
	SystemSent      bool     `json:"systemSent,omitempty"`
	AbortedLastRun  bool     `json:"abortedLastRun,omitempty"`
	InputTokens     int64    `json:"inputTokens,omitempty"`
	OutputTokens    int64    `json:"outputTokens,omitempty"`
	TotalTokens     int64    `json:"totalTokens"`
	RemainingTokens int64    `json:"remainingTokens"`
	PercentUsed     float64  `json:"percentUsed"`
	Model           string   `json:"model"`
	ContextTokens   int64    `json:"contextTokens"`
	Flags           []string `json:"flags"`
}

type GatewayAgentSessions struct {
	AgentID string           `json:"agentId"`
	Path    string           `json:"path"`
	Count   int              `json:"count"`
	Recent  []GatewaySession `json:"recent"`
}

type GatewayStatus struct {
	Sessions struct {
		Paths    []string `json:"paths"`
		Count    int      `json:"count"`
		Defaults struct {
			Model         string `json:"model"`
			ContextTokens int64  `json:"contextTokens"`
		} `json:"defaults"`
		Recent  []GatewaySession       `json:"recent"`
		ByAgent []GatewayAgentSessions `json:"byAgent"`
	} `json:"sessions"`
	ChannelSummary     []string `json:"channelSummary,omitempty"`
	QueuedSystemEvents []string `json:"queuedSystemEvents,omitempty"`
}
