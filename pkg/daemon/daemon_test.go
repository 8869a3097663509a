package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/configstore"
	"github.com/psaab/slaacd/pkg/dhcpserver"
	"github.com/psaab/slaacd/pkg/icmp6"
	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

const header4 = "address,hwaddr,client_id,valid_lifetime,expire,subnet_id,fqdn_fwd,fqdn_rev,hostname,state,user_context,pool_id\n"

// printerLease expires in 2100.
const printerLease = "192.0.2.10,aa:bb:cc:dd:ee:01,,86400,4102444800,1,0,0,printer.lan.,0,,0\n"

var (
	localAddr    = netip.MustParseAddr("2001:db8:1::1")
	printerSLAAC = netip.MustParseAddr("2001:db8:1:0:a8bb:ccff:fedd:ee01")
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEnum []slaac.LocalAddr

func (f fakeEnum) EnumerateIPv6(fn func(slaac.LocalAddr)) error {
	for _, la := range f {
		fn(la)
	}
	return nil
}

type probe struct {
	src, dst netip.Addr
	ifIndex  int
	id       int
}

type fakeSender chan probe

func (f fakeSender) Send(b []byte, src, dst netip.Addr, ifIndex int) error {
	m, err := icmp.ParseMessage(ipv6.ICMPTypeEchoRequest.Protocol(), b)
	if err != nil {
		return err
	}
	echo := m.Body.(*icmp.Echo)
	select {
	case f <- probe{src: src, dst: dst, ifIndex: ifIndex, id: echo.ID}:
	default:
	}
	return nil
}

type fakeHosts chan map[string][]netip.Addr

func (f fakeHosts) SetHosts(h map[string][]netip.Addr) {
	select {
	case f <- h:
	default:
	}
}

type fakeRA struct {
	applied []string // interfaces per Apply
	domain  string
}

func (f *fakeRA) Apply(ras []*config.RAInterfaceConfig, domain string) error {
	for _, ra := range ras {
		f.applied = append(f.applied, ra.Interface)
	}
	f.domain = domain
	return nil
}

func (f *fakeRA) SetConfig(ras []*config.RAInterfaceConfig, domain string) {
	f.Apply(ras, domain)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(leaseFile string, extra string) string {
	return fmt.Sprintf(`
protocols {
    router-advertisement {
        interface trust0 {
            prefix 2001:db8:1::/64 { ra-names; }
            %s
        }
    }
}
services {
    dhcp-local-server {
        lease-file inet "%s";
        subnet 1 { interface trust0; }
    }
    dns { domain lan; }
}
`, extra, leaseFile)
}

type harness struct {
	d        *Daemon
	c        *core
	in       inputs
	probes   fakeSender
	hosts    fakeHosts
	radvd    *fakeRA
	burster  *fakeRA
	cfgPath  string
	leases   string
	watched  [][]string
	loopDone chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		d:        New(Options{Logger: discard}),
		in:       newInputs(nil),
		probes:   make(fakeSender, 16),
		hosts:    make(fakeHosts, 64),
		radvd:    &fakeRA{},
		burster:  &fakeRA{},
		cfgPath:  filepath.Join(dir, "slaacd.conf"),
		leases:   filepath.Join(dir, "kea-leases4.csv"),
		loopDone: make(chan struct{}),
	}
	writeFile(t, h.cfgPath, testConfig(h.leases, ""))
	writeFile(t, h.leases, header4+printerLease)

	h.c = &core{
		store: configstore.New(h.cfgPath),
		syncer: &dhcpserver.Syncer{
			IfIndex: func(name string) int {
				if name == "trust0" {
					return 3
				}
				return 0
			},
			Log: discard,
		},
		hosts:       h.hosts,
		radvd:       h.radvd,
		burster:     h.burster,
		log:         discard,
		now:         time.Now,
		watchLeases: func(paths []string) { h.watched = append(h.watched, paths) },
	}
	h.c.engine = slaac.New(slaac.Options{
		Enumerator: fakeEnum{{Addr: localAddr, PrefixLen: 64, IfIndex: 3}},
		Sender:     h.probes,
		Notifier:   h.c,
		Logger:     discard,
		Jitter:     func(time.Duration) time.Duration { return 0 },
	})
	return h
}

// start loads the configuration and runs the loop until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	cfg, err := h.c.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	h.c.applyConfig(cfg)
	h.c.syncLeases()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.d.loop(ctx, h.c, h.in)
		close(h.loopDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.loopDone
	})
}

func (h *harness) nextProbe(t *testing.T) probe {
	t.Helper()
	select {
	case p := <-h.probes:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no probe sent")
	}
	return probe{}
}

// waitHosts returns the first published host table satisfying ok.
func (h *harness) waitHosts(t *testing.T, ok func(map[string][]netip.Addr) bool) map[string][]netip.Addr {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-h.hosts:
			if ok(m) {
				return m
			}
		case <-deadline:
			t.Fatal("host table never reached the expected state")
		}
	}
}

func echoReply(t *testing.T, id int) []byte {
	t.Helper()
	b, err := (&icmp.Message{
		Type: ipv6.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: id, Seq: 1},
	}).Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestLoopConfirmsAndPublishes(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	p := h.nextProbe(t)
	want := probe{src: localAddr, dst: printerSLAAC, ifIndex: 3, id: p.id}
	if diff := cmp.Diff(want, p, cmp.AllowUnexported(probe{}), cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Fatalf("probe mismatch (-want +got):\n%s", diff)
	}

	// A reply with another identifier confirms nothing.
	h.in.replies <- icmp6.Reply{From: printerSLAAC, IfName: "trust0", Payload: echoReply(t, p.id^1)}
	h.in.replies <- icmp6.Reply{From: printerSLAAC, IfName: "trust0", Payload: echoReply(t, p.id)}

	hosts := h.waitHosts(t, func(m map[string][]netip.Addr) bool { return len(m["printer"]) > 0 })
	if hosts["printer"][0] != printerSLAAC {
		t.Errorf("printer = %v, want %v", hosts["printer"], printerSLAAC)
	}
	snap := h.c.Snapshot()
	if snap.ConfirmedCount() != 1 || snap.Pending() != 0 {
		t.Errorf("confirmed %d pending %d, want 1 and 0", snap.ConfirmedCount(), snap.Pending())
	}
	if snap.Stats.RepliesIgnored != 1 {
		t.Errorf("RepliesIgnored = %d, want 1", snap.Stats.RepliesIgnored)
	}

	// Lease gone: the name is withdrawn.
	writeFile(t, h.leases, header4)
	poke(h.in.leases)
	h.waitHosts(t, func(m map[string][]netip.Addr) bool { return len(m) == 0 })
}

func TestLoopReload(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.nextProbe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reload := requestReload(ctx, h.in.reloads)

	writeFile(t, h.cfgPath, "protocols {\n")
	if err := reload(); err == nil {
		t.Fatal("reload of a broken config succeeded")
	}
	if n := len(h.c.Snapshot().Contexts); n != 1 {
		t.Errorf("contexts after failed reload = %d, want 1", n)
	}

	writeFile(t, h.cfgPath, testConfig(h.leases, "prefix 2001:db8:1::/64 { range 2001:db8:1::100 2001:db8:1::1ff; }"))
	if err := reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := len(h.c.Snapshot().Contexts); n != 2 {
		t.Errorf("contexts after reload = %d, want 2", n)
	}
	// Pending state survives the re-derivation.
	if n := h.c.Snapshot().Pending(); n != 1 {
		t.Errorf("pending after reload = %d, want 1", n)
	}
}

func TestApplyConfig(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.nextProbe(t)

	// applyConfig ran before the loop started and nothing here reloads.
	if diff := cmp.Diff([]string{"trust0"}, h.radvd.applied); diff != "" {
		t.Errorf("radvd interfaces (-want +got):\n%s", diff)
	}
	if h.radvd.domain != "lan" || h.burster.domain != "lan" {
		t.Errorf("domain: radvd %q burster %q, want lan", h.radvd.domain, h.burster.domain)
	}
	if diff := cmp.Diff([][]string{{h.leases}}, h.watched); diff != "" {
		t.Errorf("watched paths (-want +got):\n%s", diff)
	}
}

func TestContextsFromConfig(t *testing.T) {
	cfg, err := config.Parse(`
protocols {
    router-advertisement {
        interface trust0 {
            prefix 2001:db8:1::/64 { ra-names; }
            prefix 2001:db8:2::/64 { range 2001:db8:2::100 2001:db8:2::1ff; }
        }
        interface dmz0 { prefix 2001:db8:3::/48 { ra-names; } }
    }
}
`)
	if err != nil {
		t.Fatal(err)
	}
	got := contextsFromConfig(cfg, discard)
	want := []*slaac.Context{
		{
			Interface: "trust0", PrefixLen: 64, Naming: true,
			Start: netip.MustParseAddr("2001:db8:1::"),
			End:   netip.MustParseAddr("2001:db8:1::ffff:ffff:ffff:ffff"),
		},
		{
			Interface: "trust0", PrefixLen: 64,
			Start: netip.MustParseAddr("2001:db8:2::100"),
			End:   netip.MustParseAddr("2001:db8:2::1ff"),
		},
		{
			Interface: "dmz0", PrefixLen: 48, Naming: true,
			Start: netip.MustParseAddr("2001:db8:3::"),
			End:   netip.MustParseAddr("2001:db8:3:ffff:ffff:ffff:ffff:ffff"),
		},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("contexts mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordEvents(t *testing.T) {
	buf := logging.NewEventBuffer(10)
	record := recordEvents(buf)
	record(slaac.Event{
		Kind:      slaac.EventConfirm,
		LeaseKey:  "inet/192.0.2.10",
		Hostname:  "printer",
		Address:   printerSLAAC,
		Interface: "trust0",
	})
	recs := buf.Latest(1)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	r := recs[0]
	if r.Type != "SLAAC-CONFIRM" || r.Address != printerSLAAC.String() || r.Hostname != "printer" || r.Seq != 1 {
		t.Errorf("record = %+v", r)
	}
}

func TestRequestReloadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := requestReload(ctx, make(chan chan error))(); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
