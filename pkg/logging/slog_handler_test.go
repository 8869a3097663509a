package logging

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestSlogLevelToSyslog(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  int
	}{
		{slog.LevelError, SyslogError},
		{slog.LevelWarn, SyslogWarning},
		{slog.LevelInfo, SyslogInfo},
		{slog.LevelDebug, SyslogDebug},
	}
	for _, tt := range tests {
		if got := slogLevelToSyslog(tt.level); got != tt.want {
			t.Errorf("slogLevelToSyslog(%v) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestFormatRecord(t *testing.T) {
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "SLAAC-CONFIRM", 0)
	r.AddAttrs(slog.String("address", "2001:db8::1"))
	got := formatRecord(r, []slog.Attr{slog.String("interface", "eth0")}, []string{"slaac"})
	want := "SLAAC-CONFIRM interface=eth0 slaac.address=2001:db8::1"
	if got != want {
		t.Errorf("formatRecord = %q, want %q", got, want)
	}
}

func TestSyslogSlogHandler_Forwards(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	var stderr bytes.Buffer
	h := NewSyslogSlogHandler(slog.NewTextHandler(&stderr, nil))
	defer h.Close()

	// Derived loggers must see clients installed after they were created.
	log := slog.New(h).With("interface", "eth1")

	c, err := NewSyslogClient("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	h.SetClients([]*SyslogClient{c})

	log.Info("SLAAC-CONFIRM", "hostname", "laptop")

	if !strings.Contains(stderr.String(), "hostname=laptop") {
		t.Errorf("base handler output missing attrs: %q", stderr.String())
	}

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := string(buf[:n])
	if !strings.HasSuffix(got, "slaacd: SLAAC-CONFIRM interface=eth1 hostname=laptop") {
		t.Errorf("syslog line = %q", got)
	}
}

func TestSyslogSlogHandler_SeverityFilter(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	c, err := NewSyslogClient("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	c.MinSeverity = SyslogWarning

	h := NewSyslogSlogHandler(slog.NewTextHandler(&bytes.Buffer{}, nil))
	defer h.Close()
	h.SetClients([]*SyslogClient{c})

	log := slog.New(h)
	log.Info("dropped")
	log.Warn("kept")

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); !strings.HasSuffix(got, "slaacd: kept") {
		t.Errorf("first datagram = %q, want the warning", got)
	}
}
