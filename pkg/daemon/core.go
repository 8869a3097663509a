package daemon

import (
	"crypto/tls"
	"log/slog"
	"net/netip"
	"slices"
	"sync/atomic"
	"time"

	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/configstore"
	"github.com/psaab/slaacd/pkg/dhcpserver"
	"github.com/psaab/slaacd/pkg/icmp6"
	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

type hostPublisher interface {
	SetHosts(map[string][]netip.Addr)
}

type raApplier interface {
	Apply(ras []*config.RAInterfaceConfig, domain string) error
}

type raConfigurer interface {
	SetConfig(ras []*config.RAInterfaceConfig, domain string)
}

// core owns the engine. Every method except Snapshot runs on the loop
// goroutine.
type core struct {
	engine  *slaac.Engine
	store   *configstore.Store
	syncer  *dhcpserver.Syncer
	hosts   hostPublisher // nil without a DNS server
	radvd   raApplier     // nil when radvd is not managed
	burster raConfigurer
	syslog  *logging.SyslogSlogHandler
	log     *slog.Logger
	now     func() time.Time

	// watchLeases is called with the lease file paths whenever they change.
	watchLeases func(paths []string)
	leasePaths  []string

	snapshot atomic.Pointer[slaac.Snapshot]
	dnsDirty bool
	rederive bool
}

// LeaseDNSChanged implements slaac.DNSNotifier.
func (c *core) LeaseDNSChanged(changed bool) {
	if changed {
		c.dnsDirty = true
	}
}

// Snapshot returns the last published state. Safe from any goroutine.
func (c *core) Snapshot() *slaac.Snapshot {
	return c.snapshot.Load()
}

// reload re-reads the configuration file and applies it. On error the
// running configuration stays in force.
func (c *core) reload() error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}
	if diff, err := c.store.ShowCompare(1); err == nil {
		c.log.Debug("configuration reloaded", "diff", diff)
	}
	c.applyConfig(cfg)
	c.syncLeases()
	return nil
}

// applyConfig replaces the contexts and reconfigures every collaborator
// from cfg. Leases are re-derived after the next subnet map rebuild.
func (c *core) applyConfig(cfg *config.Config) {
	for _, w := range cfg.Warnings {
		c.log.Warn("config warning", "msg", w)
	}

	c.engine.SetContexts(contextsFromConfig(cfg, c.log))
	c.rederive = true
	c.dnsDirty = true

	c.syncer.Source = dhcpserver.NewSource(cfg.Services.DHCPLocalServer)
	if paths := c.syncer.Source.Paths(); !slices.Equal(paths, c.leasePaths) {
		c.leasePaths = paths
		if c.watchLeases != nil {
			c.watchLeases(paths)
		}
	}

	ras := cfg.Protocols.RouterAdvertisement
	domain := ""
	if cfg.Services.DNS != nil {
		domain = cfg.Services.DNS.Domain
	}
	if c.burster != nil {
		c.burster.SetConfig(ras, domain)
	}
	if c.radvd != nil {
		if err := c.radvd.Apply(ras, domain); err != nil {
			c.log.Warn("failed to apply radvd config", "err", err)
		}
	}
	if c.syslog != nil {
		c.syslog.SetClients(syslogClients(cfg, c.log))
	}
}

// contextsFromConfig returns one context per advertised prefix. Prefixes
// that do not parse are skipped with a warning.
func contextsFromConfig(cfg *config.Config, log *slog.Logger) []*slaac.Context {
	var ctxs []*slaac.Context
	for _, ra := range cfg.Protocols.RouterAdvertisement {
		for _, p := range ra.Prefixes {
			pfx, start, end, err := p.Bounds()
			if err != nil {
				log.Warn("skipping RA prefix", "interface", ra.Interface, "err", err)
				continue
			}
			ctxs = append(ctxs, &slaac.Context{
				Interface: ra.Interface,
				Start:     start,
				End:       end,
				PrefixLen: pfx.Bits(),
				Naming:    p.RANames,
			})
		}
	}
	return ctxs
}

// syslogClients dials the configured syslog hosts. Hosts that cannot be
// reached are logged and left out.
func syslogClients(cfg *config.Config, log *slog.Logger) []*logging.SyslogClient {
	var clients []*logging.SyslogClient
	for _, h := range cfg.System.Syslog {
		var tlsCfg *tls.Config
		if h.Transport == "tls" {
			tlsCfg = &tls.Config{ServerName: h.Address}
		}
		client, err := logging.NewSyslogClientTransport(h.Address, h.Port, h.Transport, tlsCfg)
		if err != nil {
			log.Warn("failed to create syslog client", "host", h.Address, "err", err)
			continue
		}
		client.MinSeverity = logging.ParseSeverity(h.Severity)
		client.Facility = logging.ParseFacility(h.Facility)
		log.Info("syslog host configured",
			"host", h.Address, "port", h.Port, "transport", h.Transport)
		clients = append(clients, client)
	}
	return clients
}

// syncLeases reconciles the lease table with the lease files. A read
// error keeps the current table.
func (c *core) syncLeases() {
	now := c.now()
	leases, err := c.syncer.Source.Load(now)
	if err != nil {
		c.log.Warn("failed to load leases", "err", err)
		return
	}
	res := c.syncer.Sync(c.engine, leases, now)
	if res.DNSChanged || res.Updated > 0 {
		c.dnsDirty = true
	}
}

// netChange handles an interface address change. Leases are re-read as
// well, since their interface index may have changed.
func (c *core) netChange() {
	c.engine.RequestSubnetMapRebuild()
	c.rederive = true
	c.syncLeases()
}

func (c *core) handleReply(r icmp6.Reply) {
	c.engine.HandleICMPv6Reply(r.From, r.Payload, r.IfName)
}

// step runs the prober and publishes the resulting state. It returns when
// the next probe is due, or the zero time if none is pending.
func (c *core) step() time.Time {
	now := c.now()
	next := c.engine.Sweep(now)
	if c.rederive {
		// Sweep has rebuilt the subnet map; derive against the new bindings
		// and send the first probes right away.
		c.rederive = false
		c.engine.RederiveAll(now)
		c.dnsDirty = true
		next = c.engine.Sweep(now)
	}
	c.publish(now)
	return next
}

func (c *core) publish(now time.Time) {
	snap := c.engine.Snapshot(now)
	c.snapshot.Store(snap)
	if c.dnsDirty && c.hosts != nil {
		c.hosts.SetHosts(snap.Hosts)
	}
	c.dnsDirty = false
}
