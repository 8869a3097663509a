package dhcpserver

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/slaac"
)

// Source locates the Kea lease files and maps Kea subnet ids to the
// interfaces they are served on.
type Source struct {
	LeaseFile4 string
	LeaseFile6 string
	Subnets    map[int]string // subnet_id -> interface name
}

// NewSource builds a Source from the dhcp-local-server configuration.
func NewSource(cfg *config.DHCPLocalServerConfig) *Source {
	if cfg == nil {
		return &Source{}
	}
	return &Source{
		LeaseFile4: cfg.LeaseFile4,
		LeaseFile6: cfg.LeaseFile6,
		Subnets:    cfg.Subnets,
	}
}

// Paths returns the configured lease files.
func (s *Source) Paths() []string {
	var paths []string
	for _, p := range []string{s.LeaseFile4, s.LeaseFile6} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Load reads both lease files.
func (s *Source) Load(now time.Time) ([]Lease, error) {
	var all []Lease
	if s.LeaseFile4 != "" {
		l, err := ReadLeases4(s.LeaseFile4, now)
		if err != nil {
			return nil, fmt.Errorf("read v4 leases: %w", err)
		}
		all = append(all, l...)
	}
	if s.LeaseFile6 != "" {
		l, err := ReadLeases6(s.LeaseFile6, now)
		if err != nil {
			return nil, fmt.Errorf("read v6 leases: %w", err)
		}
		all = append(all, l...)
	}
	return all, nil
}

// SyncResult summarises one Sync.
type SyncResult struct {
	Added   int
	Updated int
	Removed int

	// DNSChanged is set when a removed lease held a confirmed address.
	DNSChanged bool
}

// Syncer reconciles the engine's lease table with the lease files.
type Syncer struct {
	Source  *Source
	IfIndex func(name string) int // 0 when the interface does not exist
	Log     *slog.Logger
}

// Sync makes the engine's lease table match leases. New and changed leases
// are (re)derived; an unchanged lease keeps its state untouched. Leases no
// longer present are removed. Must run on the engine's goroutine.
func (s *Syncer) Sync(e *slaac.Engine, leases []Lease, now time.Time) SyncResult {
	var res SyncResult
	seen := make(map[string]bool, len(leases))

	for _, l := range leases {
		seen[l.Key] = true
		want := s.engineLease(l)

		cur := e.Lease(l.Key)
		if cur == nil {
			e.AddLease(want)
			e.OnLeaseUpdated(want, now)
			res.Added++
			continue
		}
		if sameIdentity(cur, want) {
			continue
		}
		cur.HWAddr = want.HWAddr
		cur.HWType = want.HWType
		cur.ClientID = want.ClientID
		cur.Hostname = want.Hostname
		cur.IfIndex = want.IfIndex
		e.OnLeaseUpdated(cur, now)
		res.Updated++
	}

	for _, key := range e.LeaseKeys() {
		if seen[key] {
			continue
		}
		if e.RemoveLease(key) {
			res.DNSChanged = true
		}
		res.Removed++
	}

	if res != (SyncResult{}) {
		s.log().Info("leases synced",
			"added", res.Added, "updated", res.Updated, "removed", res.Removed)
	}
	return res
}

func (s *Syncer) engineLease(l Lease) *slaac.Lease {
	el := &slaac.Lease{
		Key:      l.Key,
		HWAddr:   l.HWAddr,
		HWType:   l.HWType,
		ClientID: l.ClientID,
		Hostname: l.Hostname,
	}
	if s.Source != nil && s.IfIndex != nil {
		if name := s.Source.Subnets[l.SubnetID]; name != "" {
			el.IfIndex = s.IfIndex(name)
		}
	}
	return el
}

func (s *Syncer) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func sameIdentity(a, b *slaac.Lease) bool {
	return bytes.Equal(a.HWAddr, b.HWAddr) &&
		a.HWType == b.HWType &&
		bytes.Equal(a.ClientID, b.ClientID) &&
		a.Hostname == b.Hostname &&
		a.IfIndex == b.IfIndex
}
