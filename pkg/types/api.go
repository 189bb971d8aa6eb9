package types

// StatusResponse describes the supervised llama-server process for GET /status.
type StatusResponse struct {
	// Current lifecycle state: stopped, starting, running, or exited.
	// example: running
	State string `json:"state" example:"running"`
	// OS process id of the subprocess, 0 when no process is attached.
	// example: 41712
	PID int `json:"pid,omitempty" example:"41712"`
	// Port the subprocess serves on.
	// example: 8080
	Port int `json:"port" example:"8080"`
	// Base URL of the subprocess's HTTP endpoint.
	// example: http://127.0.0.1:8080
	BaseURL string `json:"base_url" example:"http://127.0.0.1:8080"`
	// Model weights file the subprocess was started with.
	ModelPath string `json:"model_path,omitempty"`
	// Unix timestamp of the most recent successful start, 0 if never started.
	StartedAt int64 `json:"started_at,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: server is not running
	Error string `json:"error" example:"server is not running"`
	// HTTP status code.
	// example: 409
	Code int `json:"code" example:"409"`
}
