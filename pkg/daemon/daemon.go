// Package daemon implements the slaacd daemon lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psaab/slaacd/pkg/api"
	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/configstore"
	"github.com/psaab/slaacd/pkg/dhcpserver"
	"github.com/psaab/slaacd/pkg/dnsserver"
	"github.com/psaab/slaacd/pkg/icmp6"
	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/netmon"
	"github.com/psaab/slaacd/pkg/radvd"
	"github.com/psaab/slaacd/pkg/slaac"
)

// DefaultConfigFile is used when Options.ConfigFile is empty.
const DefaultConfigFile = "/etc/slaacd/slaacd.conf"

// Options configures the daemon.
type Options struct {
	ConfigFile string
	APIAddr    string // overrides system { api { listen } }
	NoRadvd    bool   // leave radvd.conf and the radvd service alone

	// Syslog, if set, receives the syslog hosts from the configuration.
	Syslog *logging.SyslogSlogHandler
	Logger *slog.Logger
}

// Daemon is the main slaacd daemon.
type Daemon struct {
	opts Options
	log  *slog.Logger
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = DefaultConfigFile
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{opts: opts, log: log}
}

// inputs are the events the loop goroutine serialises.
type inputs struct {
	replies    chan icmp6.Reply
	leases     chan struct{} // lease files changed
	netChanges chan struct{} // interface addresses changed
	reloads    chan chan error
	hup        <-chan os.Signal
}

func newInputs(hup <-chan os.Signal) inputs {
	return inputs{
		replies:    make(chan icmp6.Reply, 64),
		leases:     make(chan struct{}, 1),
		netChanges: make(chan struct{}, 1),
		reloads:    make(chan chan error),
		hup:        hup,
	}
}

// poke queues a notification on ch unless one is already pending.
func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("starting slaacd", "config", d.opts.ConfigFile, "pid", os.Getpid())

	store := configstore.New(d.opts.ConfigFile)
	cfg, err := store.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	d.log.Info("configuration loaded", "file", d.opts.ConfigFile)

	// Handle signals for clean shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	mon, err := netmon.New()
	if err != nil {
		return err
	}
	defer mon.Close()

	conn, err := icmp6.Listen(mon.LinkName)
	if err != nil {
		return err
	}
	defer conn.Close()

	burster := radvd.NewBurster(d.log)
	defer burster.Close()

	eventBuf := logging.NewEventBuffer(1000)

	c := &core{
		store: store,
		syncer: &dhcpserver.Syncer{
			IfIndex: func(name string) int {
				idx, err := mon.LinkIndex(name)
				if err != nil {
					return 0
				}
				return idx
			},
			Log: d.log,
		},
		burster: burster,
		syslog:  d.opts.Syslog,
		log:     d.log,
		now:     time.Now,
	}
	if !d.opts.NoRadvd {
		c.radvd = radvd.New(d.log)
	}
	var dnsSrv *dnsserver.Server
	if dc := cfg.Services.DNS; dc != nil && dc.Listen != "" {
		dnsSrv = dnsserver.New(dc, d.log)
		c.hosts = dnsSrv
	}
	c.engine = slaac.New(slaac.Options{
		Enumerator: mon,
		Sender:     conn,
		Advertiser: burster,
		Notifier:   c,
		Logger:     d.log,
		Events:     recordEvents(eventBuf),
	})

	in := newInputs(hup)

	// WaitGroup for coordinated shutdown of background goroutines
	var wg sync.WaitGroup
	c.watchLeases = d.leaseWatcher(ctx, &wg, in.leases)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := conn.Run(ctx, in.replies); err != nil {
			d.log.Error("icmp6 reader stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.Watch(ctx, func() { poke(in.netChanges) }); err != nil {
			d.log.Warn("interface monitor stopped", "err", err)
		}
	}()

	if dnsSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dnsSrv.ListenAndServe(ctx); err != nil {
				d.log.Warn("dns server stopped", "err", err)
			}
		}()
	}

	if addr := d.apiAddr(cfg.System.API); addr != "" {
		srvCfg := api.Config{
			Addr:          addr,
			Auth:          api.AuthFromConfig(cfg.System.API),
			Snapshot:      c.Snapshot,
			EventBuf:      eventBuf,
			ConfigText:    store.ShowActive,
			ConfigCompare: store.ShowCompare,
			Reload:        requestReload(ctx, in.reloads),
			Logger:        d.log,
		}
		if dnsSrv != nil {
			srvCfg.DNSQueries = dnsSrv.Queries
		}
		srv := api.NewServer(srvCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				d.log.Warn("API server stopped", "err", err)
			}
		}()
	}

	c.applyConfig(cfg)
	c.syncLeases()
	d.loop(ctx, c, in)

	d.log.Info("signal received, shutting down")
	stop()
	wg.Wait()

	if snap := c.Snapshot(); snap != nil {
		st := snap.Stats
		d.log.Info("final statistics",
			"leases", len(snap.Leases),
			"confirmed", snap.ConfirmedCount(),
			"pending", snap.Pending(),
			"probes_sent", st.ProbesSent,
			"send_errors", st.SendErrors)
	}
	d.log.Info("shutdown complete")
	return nil
}

func (d *Daemon) apiAddr(cfg *config.APIConfig) string {
	if d.opts.APIAddr != "" {
		return d.opts.APIAddr
	}
	if cfg != nil {
		return cfg.Listen
	}
	return ""
}

// loop serialises every engine call. It returns when ctx is done.
func (d *Daemon) loop(ctx context.Context, c *core, in inputs) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	// A reload request is answered once the new state is published.
	var (
		reloaded  chan error
		reloadErr error
	)
	for {
		if next := c.step(); next.IsZero() {
			timer.Stop()
		} else {
			timer.Reset(max(next.Sub(c.now()), 0))
		}
		if reloaded != nil {
			reloaded <- reloadErr
			reloaded = nil
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case r := <-in.replies:
			c.handleReply(r)
		case <-in.leases:
			c.syncLeases()
		case <-in.netChanges:
			c.netChange()
		case reloaded = <-in.reloads:
			reloadErr = c.reload()
		case <-in.hup:
			d.log.Info("SIGHUP received, reloading configuration")
			if err := c.reload(); err != nil {
				d.log.Warn("reload failed, keeping running configuration", "err", err)
			}
		}
	}
}

// leaseWatcher returns a function that (re)starts the lease file watcher
// for a new set of paths. It must only be called from one goroutine.
func (d *Daemon) leaseWatcher(ctx context.Context, wg *sync.WaitGroup, changed chan struct{}) func([]string) {
	var cancel context.CancelFunc
	return func(paths []string) {
		if cancel != nil {
			cancel()
			cancel = nil
		}
		if len(paths) == 0 {
			return
		}
		var wctx context.Context
		wctx, cancel = context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dhcpserver.Watch(wctx, paths, dhcpserver.DefaultDebounce, d.log, func() { poke(changed) })
			if err != nil {
				d.log.Warn("lease watcher stopped", "err", err)
			}
		}()
	}
}

// requestReload returns a function that asks the loop to reload the
// configuration and waits for the outcome.
func requestReload(ctx context.Context, reloads chan<- chan error) func() error {
	return func() error {
		done := make(chan error, 1)
		select {
		case reloads <- done:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recordEvents copies engine address events into buf.
func recordEvents(buf *logging.EventBuffer) func(slaac.Event) {
	return func(ev slaac.Event) {
		buf.Add(logging.EventRecord{
			Type:      string(ev.Kind),
			LeaseKey:  ev.LeaseKey,
			Hostname:  ev.Hostname,
			Address:   ev.Address.String(),
			Interface: ev.Interface,
		})
	}
}
