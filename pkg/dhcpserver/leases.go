// Package dhcpserver feeds the DHCP leases handed out by Kea into the SLAAC
// engine. It reads Kea's memfile lease CSVs, extracts the client's
// link-layer identity and watches the files for changes.
package dhcpserver

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"
)

// Kea lease states. Only default leases are live.
const (
	stateDefault = "0"
	leaseTypeNA  = "0"
)

// Lease is one live lease read from a Kea lease file.
type Lease struct {
	Key      string // "inet/<addr>" or "inet6/<addr>"
	Address  netip.Addr
	HWAddr   net.HardwareAddr
	HWType   iana.HWType
	ClientID []byte
	Hostname string // first label of the client's name
	SubnetID int
	Expire   time.Time // zero for infinite leases
}

// ReadLeases4 reads a kea-leases4.csv file. A missing file holds no leases.
func ReadLeases4(path string, now time.Time) ([]Lease, error) {
	return readLeases(path, now, parseRow4)
}

// ReadLeases6 reads a kea-leases6.csv file. Only IA_NA leases are returned.
func ReadLeases6(path string, now time.Time) ([]Lease, error) {
	return readLeases(path, now, parseRow6)
}

type row struct {
	cols   map[string]int
	fields []string
}

func (r row) get(name string) string {
	if idx, ok := r.cols[name]; ok && idx < len(r.fields) {
		return strings.TrimSpace(r.fields[idx])
	}
	return ""
}

// readLeases parses a memfile CSV. Kea appends a row for every lease
// update, so the last row for an address wins and a non-default state in
// that row removes the lease.
func readLeases(path string, now time.Time, parse func(row) (Lease, bool, error)) ([]Lease, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	if _, ok := cols["address"]; !ok {
		return nil, fmt.Errorf("%s: no address column", path)
	}

	var order []netip.Addr
	latest := make(map[netip.Addr]*Lease)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rw := row{cols: cols, fields: fields}
		l, live, err := parse(rw)
		if err != nil {
			// Kea never writes these; skip rather than lose the whole file.
			continue
		}
		if _, seen := latest[l.Address]; !seen {
			order = append(order, l.Address)
		}
		if st := rw.get("state"); !live || (st != "" && st != stateDefault) {
			latest[l.Address] = nil
			continue
		}
		if !l.Expire.IsZero() && !l.Expire.After(now) {
			latest[l.Address] = nil
			continue
		}
		latest[l.Address] = &l
	}

	var leases []Lease
	for _, a := range order {
		if l := latest[a]; l != nil {
			leases = append(leases, *l)
		}
	}
	return leases, nil
}

func parseCommon(r row, family string) (Lease, error) {
	addr, err := netip.ParseAddr(r.get("address"))
	if err != nil {
		return Lease{}, err
	}
	l := Lease{
		Key:      family + "/" + addr.String(),
		Address:  addr,
		Hostname: hostLabel(r.get("hostname")),
	}
	if s := r.get("subnet_id"); s != "" {
		if l.SubnetID, err = strconv.Atoi(s); err != nil {
			return Lease{}, fmt.Errorf("subnet_id %q: %w", s, err)
		}
	}
	if s := r.get("expire"); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Lease{}, fmt.Errorf("expire %q: %w", s, err)
		}
		// Infinite (0xffffffff) lifetimes push expire to or past 2106.
		if secs > 0 && secs < math.MaxUint32 {
			l.Expire = time.Unix(secs, 0)
		}
	}
	return l, nil
}

func parseRow4(r row) (Lease, bool, error) {
	l, err := parseCommon(r, "inet")
	if err != nil {
		return Lease{}, false, err
	}
	if !l.Address.Is4() {
		return Lease{}, false, fmt.Errorf("%s is not IPv4", l.Address)
	}
	if l.HWAddr, err = parseHex(r.get("hwaddr")); err != nil {
		return Lease{}, false, fmt.Errorf("hwaddr: %w", err)
	}
	if l.ClientID, err = parseHex(r.get("client_id")); err != nil {
		return Lease{}, false, fmt.Errorf("client_id: %w", err)
	}
	l.HWType = iana.HWTypeEthernet

	// RFC 2855: IEEE 1394 clients send no chaddr and identify themselves
	// with a type-27 client identifier carrying their EUI-64.
	if len(l.HWAddr) == 0 && len(l.ClientID) == 9 && l.ClientID[0] == byte(iana.HWTypeEUI64) {
		l.HWType = iana.HWTypeIEEE1394
		l.HWAddr = net.HardwareAddr(l.ClientID[1:])
	}
	return l, true, nil
}

func parseRow6(r row) (Lease, bool, error) {
	l, err := parseCommon(r, "inet6")
	if err != nil {
		return Lease{}, false, err
	}
	if !l.Address.Is6() {
		return Lease{}, false, fmt.Errorf("%s is not IPv6", l.Address)
	}
	if t := r.get("lease_type"); t != "" && t != leaseTypeNA {
		return l, false, nil
	}

	duid, err := parseHex(r.get("duid"))
	if err != nil {
		return Lease{}, false, fmt.Errorf("duid: %w", err)
	}
	l.ClientID = duid

	if l.HWAddr, err = parseHex(r.get("hwaddr")); err != nil {
		return Lease{}, false, fmt.Errorf("hwaddr: %w", err)
	}
	if len(l.HWAddr) > 0 {
		l.HWType = iana.HWTypeEthernet
		if s := r.get("hwtype"); s != "" {
			t, err := strconv.ParseUint(s, 10, 16)
			if err != nil {
				return Lease{}, false, fmt.Errorf("hwtype %q: %w", s, err)
			}
			l.HWType = iana.HWType(t)
		}
		return l, true, nil
	}

	l.HWType, l.HWAddr = duidLinkLayer(duid)
	return l, true, nil
}

// duidLinkLayer returns the link-layer address embedded in a DUID-LL or
// DUID-LLT.
func duidLinkLayer(b []byte) (iana.HWType, net.HardwareAddr) {
	if len(b) == 0 {
		return 0, nil
	}
	d, err := dhcpv6.DUIDFromBytes(b)
	if err != nil {
		return 0, nil
	}
	switch d := d.(type) {
	case *dhcpv6.DUIDLL:
		return d.HWType, d.LinkLayerAddr
	case *dhcpv6.DUIDLLT:
		return d.HWType, d.LinkLayerAddr
	}
	return 0, nil
}

// parseHex decodes Kea's colon separated hex ("aa:bb:cc").
func parseHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.ReplaceAll(s, ":", ""))
}

// hostLabel returns the unqualified host name Kea recorded, undoing its
// comma escaping.
func hostLabel(s string) string {
	s = strings.ReplaceAll(s, "&#x2c", ",")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
