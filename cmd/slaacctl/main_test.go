package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/slaacd/pkg/api"
	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

func testSnapshot() *slaac.Snapshot {
	a1 := netip.MustParseAddr("2001:db8:1:0:211:22ff:fe33:4455")
	a2 := netip.MustParseAddr("2001:db8:1:0:266:77ff:fe88:99aa")
	return &slaac.Snapshot{
		PingID: 4242,
		Contexts: []slaac.ContextStatus{
			{Interface: "eth1", Prefix: netip.MustParsePrefix("2001:db8:1::/64"), Naming: true, IfIndex: 3, Local: netip.MustParseAddr("2001:db8:1::1")},
			{Interface: "eth2", Prefix: netip.MustParsePrefix("2001:db8:2::/64")},
		},
		Leases: []slaac.LeaseStatus{
			{Key: "4:192.0.2.10", Hostname: "printer", HWAddr: "00:11:22:33:44:55", IfIndex: 3,
				Addresses: []slaac.AddressStatus{{Address: a1, Confirmed: true}}},
			{Key: "4:192.0.2.11", Hostname: "laptop", HWAddr: "00:66:77:88:99:aa", IfIndex: 3,
				Addresses: []slaac.AddressStatus{{Address: a2, Attempt: 2}}},
		},
		Stats: slaac.Stats{ProbesSent: 7, Confirmed: 1},
		Hosts: map[string][]netip.Addr{"printer": {a1}},
	}
}

type testEnv struct {
	ctl     *ctl
	out     *bytes.Buffer
	events  *logging.EventBuffer
	reloads int
}

func newTestEnv(t *testing.T, auth *api.AuthConfig) *testEnv {
	t.Helper()
	env := &testEnv{out: &bytes.Buffer{}, events: logging.NewEventBuffer(16)}
	snap := testSnapshot()
	srv := api.NewServer(api.Config{
		Auth:       auth,
		Snapshot:   func() *slaac.Snapshot { return snap },
		EventBuf:   env.events,
		ConfigText: func() string { return "system {\n    host-name gw;\n}\n" },
		ConfigCompare: func(n int) (string, error) {
			if n > 1 {
				return "", errors.New("no such configuration")
			}
			return "- set system host-name old\n+ set system host-name gw\n", nil
		},
		Reload: func() error { env.reloads++; return nil },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	env.ctl = &ctl{client: newClient(ts.URL), out: env.out, hostname: "gw", username: "admin"}
	return env
}

func (env *testEnv) run(t *testing.T, line string) string {
	t.Helper()
	env.out.Reset()
	if err := env.ctl.dispatch(line); err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return env.out.String()
}

func TestShowCommands(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		line string
		want []string
		not  []string
	}{
		{"show status", []string{"Echo identifier:     4242", "Contexts:            2 (1 bound)", "1 confirmed, 1 pending"}, nil},
		{"show slaac leases", []string{"printer", "laptop", "confirmed", "pending (probe 2)"}, nil},
		{"show slaac leases pending", []string{"laptop"}, []string{"printer"}},
		{"show slaac leases hostname printer", []string{"2001:db8:1:0:211:22ff:fe33:4455"}, []string{"laptop"}},
		{"show slaac hosts", []string{"printer", "2001:db8:1:0:211:22ff:fe33:4455"}, []string{"laptop"}},
		{"show slaac contexts", []string{"2001:db8:1::/64", "2001:db8:1::1", "unbound"}, nil},
		{"show configuration", []string{"host-name gw;"}, nil},
		{"show configuration compare", []string{"+ set system host-name gw"}, nil},
		{"show events", []string{"No events"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out := env.run(t, tt.line)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(out, n) {
					t.Errorf("output contains %q:\n%s", n, out)
				}
			}
		})
	}
}

func TestShowEventsFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.events.Add(logging.EventRecord{Type: "SLAAC-TRACK", Hostname: "printer", Address: "2001:db8:1:0:211:22ff:fe33:4455"})
	env.events.Add(logging.EventRecord{Type: "SLAAC-CONFIRM", Hostname: "printer", Address: "2001:db8:1:0:211:22ff:fe33:4455", Interface: "eth1"})
	env.events.Add(logging.EventRecord{Type: "SLAAC-TRACK", Hostname: "laptop", Address: "2001:db8:1:0:266:77ff:fe88:99aa"})

	out := env.run(t, "show events type confirm")
	if !strings.Contains(out, "SLAAC-CONFIRM") || strings.Contains(out, "SLAAC-TRACK") {
		t.Errorf("type filter:\n%s", out)
	}
	if !strings.Contains(out, "on eth1") {
		t.Errorf("missing interface:\n%s", out)
	}

	out = env.run(t, "show events hostname laptop count 5")
	if got := strings.Count(out, "\n"); got != 1 || !strings.Contains(out, "laptop") {
		t.Errorf("hostname filter:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, line := range []string{
		"frobnicate",
		"show slaac",
		"show slaac leases pending confirmed",
		"show slaac leases hostname",
		"show slaac leases bogus",
		"show events count many",
		"show configuration compare 5",
		"monitor",
		"request",
	} {
		if err := env.ctl.dispatch(line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
	if err := env.ctl.dispatch("quit"); !errors.Is(err, errExit) {
		t.Errorf("quit: got %v", err)
	}
}

func TestRequestReload(t *testing.T) {
	env := newTestEnv(t, nil)
	out := env.run(t, "request reload")
	if env.reloads != 1 {
		t.Errorf("reloads = %d, want 1", env.reloads)
	}
	if !strings.Contains(out, "reloaded") {
		t.Errorf("output: %q", out)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, &api.AuthConfig{
		Users:   map[string]string{"admin": "secret"},
		APIKeys: map[string]bool{"k1": true},
	})
	if err := env.ctl.dispatch("show status"); err == nil {
		t.Fatal("expected unauthorized error")
	}

	env.ctl.client.apiKey = "k1"
	env.run(t, "show status")

	env.ctl.client.apiKey = ""
	env.ctl.client.user, env.ctl.client.pass = "admin", "secret"
	env.run(t, "show status")
}

func TestContextHelp(t *testing.T) {
	env := newTestEnv(t, nil)

	out := env.run(t, "show slaac ?")
	for _, w := range []string{"Possible completions:", "leases", "hosts", "contexts"} {
		if !strings.Contains(out, w) {
			t.Errorf("help missing %q:\n%s", w, out)
		}
	}

	out = env.run(t, "show slaac leases hostname ?")
	if !strings.Contains(out, "printer") {
		t.Errorf("hostname help missing printer:\n%s", out)
	}

	out = env.run(t, "bogus ?")
	if !strings.Contains(out, "no help available") {
		t.Errorf("unexpected help:\n%s", out)
	}
}

func TestRemoteCompleter(t *testing.T) {
	env := newTestEnv(t, nil)
	rc := &remoteCompleter{ctl: env.ctl}

	tests := []struct {
		line    string
		want    []string
		wantLen int
	}{
		{"sh", []string{"ow "}, 2},
		{"show sl", []string{"aac "}, 2},
		{"show slaac leases hostname p", []string{"rinter "}, 1},
		{"request ", []string{"reload "}, 0},
	}
	for _, tt := range tests {
		got, n := rc.Do([]rune(tt.line), len(tt.line))
		var names []string
		for _, r := range got {
			names = append(names, string(r))
		}
		if diff := cmp.Diff(tt.want, names); diff != "" {
			t.Errorf("%q: (-want +got)\n%s", tt.line, diff)
		}
		if n != tt.wantLen {
			t.Errorf("%q: replace length %d, want %d", tt.line, n, tt.wantLen)
		}
	}
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- env.ctl.client.stream(ctx, "/api/v1/events/stream", nil, func(event string, _ []byte) {
			select {
			case got <- event:
			default:
			}
		})
	}()

	// Events added before the stream subscribes are not delivered.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var event string
wait:
	for {
		select {
		case event = <-got:
			break wait
		case <-tick.C:
			env.events.Add(logging.EventRecord{Type: "SLAAC-CONFIRM", Hostname: "printer"})
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
	if event != "SLAAC-CONFIRM" {
		t.Errorf("event = %q", event)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("stream: %v", err)
	}
}

func TestPrompt(t *testing.T) {
	c := &ctl{username: "admin", hostname: "gw"}
	if got := c.operationalPrompt(); got != "admin@gw> " {
		t.Errorf("prompt = %q", got)
	}
}
