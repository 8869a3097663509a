package radvd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/mdlayher/ndp"
	"golang.org/x/net/ipv6"

	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/slaac"
)

const (
	burstCount    = 3
	burstInterval = time.Second

	defaultMaxAdvInterval = 600   // seconds, radvd default
	defaultValidLifetime  = 86400 // seconds
	defaultPreferredLife  = 14400 // seconds
)

type raWriter interface {
	WriteTo(m ndp.Message, cm *ipv6.ControlMessage, dst netip.Addr) error
	Close() error
}

// Burster sends short bursts of unsolicited Router Advertisements so
// clients configure (or reconfirm) SLAAC addresses without waiting for the
// next periodic advertisement from radvd.
type Burster struct {
	log *slog.Logger

	count    int
	interval time.Duration
	iface    func(index int) (*net.Interface, error)
	listen   func(ifi *net.Interface) (raWriter, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	ras    map[string]*config.RAInterfaceConfig
	domain string
	active map[int]bool
}

// NewBurster creates a Burster. Close stops any bursts in flight.
func NewBurster(log *slog.Logger) *Burster {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Burster{
		log:      log,
		count:    burstCount,
		interval: burstInterval,
		iface:    net.InterfaceByIndex,
		listen: func(ifi *net.Interface) (raWriter, error) {
			c, _, err := ndp.Listen(ifi, ndp.LinkLocal)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		ctx:    ctx,
		cancel: cancel,
		ras:    make(map[string]*config.RAInterfaceConfig),
		active: make(map[int]bool),
	}
}

// SetConfig replaces the advertised interface settings.
func (b *Burster) SetConfig(ras []*config.RAInterfaceConfig, domain string) {
	m := make(map[string]*config.RAInterfaceConfig, len(ras))
	for _, ra := range ras {
		m[ra.Interface] = ra
	}
	b.mu.Lock()
	b.ras = m
	b.domain = domain
	b.mu.Unlock()
}

// StartUnsolicited implements slaac.Advertiser. It returns immediately; a
// burst already running on the context's interface is left to finish.
func (b *Burster) StartUnsolicited(c *slaac.Context) {
	if c.IfIndex == 0 {
		return
	}
	b.mu.Lock()
	ra := b.ras[c.Interface]
	domain := b.domain
	if ra == nil || b.active[c.IfIndex] || b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	b.active[c.IfIndex] = true
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.active, c.IfIndex)
			b.mu.Unlock()
		}()
		if err := b.burst(c.IfIndex, ra, domain); err != nil {
			b.log.Warn("unsolicited RA failed", "interface", c.Interface, "err", err)
		}
	}()
}

func (b *Burster) burst(ifIndex int, ra *config.RAInterfaceConfig, domain string) error {
	ifi, err := b.iface(ifIndex)
	if err != nil {
		return fmt.Errorf("interface %d: %w", ifIndex, err)
	}
	msg, err := buildRA(ra, ifi, domain)
	if err != nil {
		return err
	}
	conn, err := b.listen(ifi)
	if err != nil {
		return fmt.Errorf("ndp listen on %s: %w", ifi.Name, err)
	}
	defer conn.Close()

	for i := 0; i < b.count; i++ {
		if i > 0 {
			select {
			case <-time.After(b.interval):
			case <-b.ctx.Done():
				return nil
			}
		}
		if err := conn.WriteTo(msg, nil, netip.IPv6LinkLocalAllNodes()); err != nil {
			return fmt.Errorf("send RA on %s: %w", ifi.Name, err)
		}
		b.log.Debug("unsolicited RA sent", "interface", ifi.Name, "n", i+1)
	}
	return nil
}

// Close cancels bursts in flight and waits for them to stop.
func (b *Burster) Close() {
	b.mu.Lock()
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
}

// buildRA renders the advertisement radvd would send for ra on ifi.
func buildRA(ra *config.RAInterfaceConfig, ifi *net.Interface, domain string) (*ndp.RouterAdvertisement, error) {
	maxInterval := ra.MaxAdvInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxAdvInterval
	}
	lifetime := time.Duration(3*maxInterval) * time.Second
	if ra.DefaultLifetime > 0 {
		lifetime = time.Duration(ra.DefaultLifetime) * time.Second
	}

	var opts []ndp.Option
	for _, p := range ra.Prefixes {
		pfx, err := netip.ParsePrefix(p.Prefix)
		if err != nil {
			return nil, fmt.Errorf("prefix %q: %w", p.Prefix, err)
		}
		valid, preferred := p.ValidLifetime, p.PreferredLife
		if valid <= 0 {
			valid = defaultValidLifetime
		}
		if preferred <= 0 {
			preferred = defaultPreferredLife
		}
		opts = append(opts, &ndp.PrefixInformation{
			PrefixLength:                   uint8(pfx.Bits()),
			OnLink:                         p.OnLink,
			AutonomousAddressConfiguration: p.Autonomous,
			ValidLifetime:                  time.Duration(valid) * time.Second,
			PreferredLifetime:              time.Duration(preferred) * time.Second,
			Prefix:                         pfx.Masked().Addr(),
		})
	}

	var servers []netip.Addr
	for _, s := range ra.DNSServers {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("dns server %q: %w", s, err)
		}
		servers = append(servers, a)
	}
	if len(servers) > 0 {
		opts = append(opts, &ndp.RecursiveDNSServer{Lifetime: lifetime, Servers: servers})
	}
	if domain != "" {
		opts = append(opts, &ndp.DNSSearchList{Lifetime: lifetime, DomainNames: []string{domain}})
	}
	if ra.LinkMTU > 0 {
		opts = append(opts, ndp.NewMTU(uint32(ra.LinkMTU)))
	}
	if len(ifi.HardwareAddr) > 0 {
		opts = append(opts, &ndp.LinkLayerAddress{Direction: ndp.Source, Addr: ifi.HardwareAddr})
	}

	return &ndp.RouterAdvertisement{
		CurrentHopLimit:           64,
		ManagedConfiguration:      ra.ManagedConfig,
		OtherConfiguration:        ra.OtherStateful,
		RouterSelectionPreference: preference(ra.Preference),
		RouterLifetime:            lifetime,
		Options:                   opts,
	}, nil
}

func preference(s string) ndp.Preference {
	switch s {
	case "high":
		return ndp.High
	case "low":
		return ndp.Low
	default:
		return ndp.Medium
	}
}
