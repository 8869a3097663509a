// Package api implements the HTTP status API, the event stream and the
// Prometheus metrics endpoint.
package api

import "github.com/psaab/slaacd/pkg/slaac"

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse summarises the daemon state.
type StatusResponse struct {
	Uptime        string      `json:"uptime"`
	ConfigLoaded  bool        `json:"config_loaded"`
	PingID        uint16      `json:"ping_id"`
	Contexts      int         `json:"contexts"`
	BoundContexts int         `json:"bound_contexts"`
	Leases        int         `json:"leases"`
	Pending       int         `json:"pending"`
	Confirmed     int         `json:"confirmed"`
	DNSQueries    uint64      `json:"dns_queries"`
	Stats         slaac.Stats `json:"stats"`
}

// HostEntry is one published DNS name.
type HostEntry struct {
	Hostname  string   `json:"hostname"`
	Addresses []string `json:"addresses"`
}

// ConfigResponse carries the running configuration as text.
type ConfigResponse struct {
	Output string `json:"output"`
}
