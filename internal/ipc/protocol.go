package ipc

import (
	"autosave/internal/config"
	"autosave/internal/event"
)

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Argument Structs ---

// UpdateConfigArgs carries the settings to change. Keys match the settings
// file; absent keys are left alone.
type UpdateConfigArgs = config.ConfigPatch

type AppArgs struct {
	Name string `json:"name" mapstructure:"name"` // executable path or name
}

// --- Command Names (Constants) ---

const (
	CmdPing         = "ping"
	CmdGetStatus    = "get_status"
	CmdGetConfig    = "get_config"
	CmdUpdateConfig = "update_config"
	CmdAddApp       = "add_app"
	CmdRemoveApp    = "remove_app"
)

// --- Status Response Data ---
type StatusData struct {
	State     string             `json:"state"` // "idle" or "active"
	App       string             `json:"app,omitempty"`
	Process   string             `json:"process,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Since     string             `json:"since,omitempty"`
	Status    event.Status       `json:"status"`
	Sampler   string             `json:"sampler"`
	Provider  string             `json:"provider"`
	Config    config.WatchConfig `json:"config"`
	RecentLog []event.LogEntry   `json:"recent_log"`
}
