package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// sinks is shared by a handler and every handler derived from it through
// WithAttrs or WithGroup, so a reload reaches loggers created earlier.
type sinks struct {
	mu      sync.RWMutex
	clients []*SyslogClient
}

// SyslogSlogHandler is an slog.Handler that writes to a base handler
// (normally stderr) and copies each record to the configured syslog hosts.
type SyslogSlogHandler struct {
	base   slog.Handler
	sinks  *sinks
	attrs  []slog.Attr
	groups []string
}

// NewSyslogSlogHandler wraps base with syslog forwarding.
func NewSyslogSlogHandler(base slog.Handler) *SyslogSlogHandler {
	return &SyslogSlogHandler{base: base, sinks: &sinks{}}
}

// SetClients replaces the syslog clients and closes the previous ones.
func (h *SyslogSlogHandler) SetClients(clients []*SyslogClient) {
	h.sinks.mu.Lock()
	old := h.sinks.clients
	h.sinks.clients = clients
	h.sinks.mu.Unlock()

	for _, c := range old {
		c.Close()
	}
}

// Close closes all syslog clients.
func (h *SyslogSlogHandler) Close() {
	h.SetClients(nil)
}

// Enabled implements slog.Handler.
func (h *SyslogSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler. Syslog write errors are not reported;
// the base handler's error is.
func (h *SyslogSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)

	h.sinks.mu.RLock()
	clients := h.sinks.clients
	h.sinks.mu.RUnlock()
	if len(clients) == 0 {
		return err
	}

	severity := slogLevelToSyslog(r.Level)
	var msg string
	for _, c := range clients {
		if !c.ShouldSend(severity) {
			continue
		}
		if msg == "" {
			msg = formatRecord(r, h.attrs, h.groups)
		}
		c.Send(severity, msg)
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *SyslogSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: qualify(h.groups, a.Key), Value: a.Value})
	}
	return &SyslogSlogHandler{
		base:   h.base.WithAttrs(attrs),
		sinks:  h.sinks,
		attrs:  qualified,
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *SyslogSlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SyslogSlogHandler{
		base:   h.base.WithGroup(name),
		sinks:  h.sinks,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func slogLevelToSyslog(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return SyslogError
	case level >= slog.LevelWarn:
		return SyslogWarning
	case level >= slog.LevelInfo:
		return SyslogInfo
	default:
		return SyslogDebug
	}
}

func qualify(groups []string, key string) string {
	if len(groups) == 0 {
		return key
	}
	return strings.Join(groups, ".") + "." + key
}

// formatRecord renders r as "message key=value ...".
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%s", qualify(groups, a.Key), a.Value.String())
		return true
	})
	return b.String()
}
