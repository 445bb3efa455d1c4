package api

// ExecRequest is the JSON body for POST /v1/exec.
type ExecRequest struct {
	Args []string `json:"args"`
}

// CommandsResponse is returned by GET /v1/commands.
type CommandsResponse struct {
	Commands []CommandInfo `json:"commands"`
}

type CommandInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Options     []OptionInfo `json:"options"`
}

type OptionInfo struct {
	Short    string   `json:"short,omitempty"`
	Long     string   `json:"long,omitempty"`
	Required bool     `json:"required"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
	Type     string   `json:"type"`
	Values   []string `json:"values,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Commands      int    `json:"commands"`
	Workers       int    `json:"workers"`
}
