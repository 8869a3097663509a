// Package logging forwards slaacd log records to remote syslog receivers
// and keeps a buffer of recent address events.
package logging

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Syslog severity levels (RFC 3164).
const (
	SyslogError   = 3
	SyslogWarning = 4
	SyslogNotice  = 5
	SyslogInfo    = 6
	SyslogDebug   = 7
)

// Syslog facilities.
const (
	FacilityKern   = 0
	FacilityUser   = 1
	FacilityDaemon = 3
	FacilityAuth   = 4
	FacilitySyslog = 5
	FacilityLocal0 = 16
	FacilityLocal1 = 17
	FacilityLocal2 = 18
	FacilityLocal3 = 19
	FacilityLocal4 = 20
	FacilityLocal5 = 21
	FacilityLocal6 = 22
	FacilityLocal7 = 23
)

const syslogTag = "slaacd"

// SyslogClient sends RFC 3164 messages over UDP, TCP or TLS. Stream
// transports use octet-counted framing (RFC 6587) and redial once when a
// write fails.
type SyslogClient struct {
	MinSeverity int // 0 = no filter
	Facility    int

	addr     string
	protocol string
	tlsCfg   *tls.Config
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogClient creates a UDP syslog client for host:port.
func NewSyslogClient(host string, port int) (*SyslogClient, error) {
	return NewSyslogClientTransport(host, port, "udp", nil)
}

// NewSyslogClientTransport creates a syslog client using protocol "udp"
// (default), "tcp" or "tls".
func NewSyslogClientTransport(host string, port int, protocol string, tlsCfg *tls.Config) (*SyslogClient, error) {
	if protocol == "" {
		protocol = "udp"
	}
	switch protocol {
	case "udp", "tcp", "tls":
	default:
		return nil, fmt.Errorf("syslog: unknown transport %q", protocol)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = syslogTag
	}
	c := &SyslogClient{
		Facility: FacilityLocal0,
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		protocol: protocol,
		tlsCfg:   tlsCfg,
		hostname: hostname,
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SyslogClient) dial() error {
	var (
		conn net.Conn
		err  error
	)
	switch c.protocol {
	case "tls":
		d := &net.Dialer{Timeout: 5 * time.Second}
		conn, err = tls.DialWithDialer(d, "tcp", c.addr, c.tlsCfg)
	default:
		conn, err = net.DialTimeout(c.protocol, c.addr, 5*time.Second)
	}
	if err != nil {
		return fmt.Errorf("dial syslog %s/%s: %w", c.protocol, c.addr, err)
	}
	c.conn = conn
	return nil
}

// Send sends msg with the given severity.
func (c *SyslogClient) Send(severity int, msg string) error {
	priority := c.Facility*8 + severity
	ts := time.Now().Format(time.Stamp)
	line := fmt.Sprintf("<%d>%s %s %s: %s", priority, ts, c.hostname, syslogTag, msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocol == "udp" {
		_, err := c.conn.Write([]byte(line))
		return err
	}

	frame := []byte(strconv.Itoa(len(line)) + " " + line)
	if c.conn != nil {
		if _, err := c.conn.Write(frame); err == nil {
			return nil
		}
		c.conn.Close()
		c.conn = nil
	}
	if err := c.dial(); err != nil {
		return err
	}
	_, err := c.conn.Write(frame)
	return err
}

// ShouldSend reports whether severity passes the client's filter. Lower
// numbers are more severe.
func (c *SyslogClient) ShouldSend(severity int) bool {
	return c.MinSeverity == 0 || severity <= c.MinSeverity
}

// Close closes the underlying connection.
func (c *SyslogClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ParseSeverity converts a severity name to its numeric value. Unknown names
// yield 0 (no filter).
func ParseSeverity(name string) int {
	switch name {
	case "error":
		return SyslogError
	case "warning":
		return SyslogWarning
	case "notice":
		return SyslogNotice
	case "info":
		return SyslogInfo
	case "debug":
		return SyslogDebug
	default:
		return 0
	}
}

// ParseFacility converts a facility name to its numeric value. Unknown
// names yield local0.
func ParseFacility(name string) int {
	switch name {
	case "kern":
		return FacilityKern
	case "user":
		return FacilityUser
	case "daemon":
		return FacilityDaemon
	case "auth":
		return FacilityAuth
	case "syslog":
		return FacilitySyslog
	case "local1":
		return FacilityLocal1
	case "local2":
		return FacilityLocal2
	case "local3":
		return FacilityLocal3
	case "local4":
		return FacilityLocal4
	case "local5":
		return FacilityLocal5
	case "local6":
		return FacilityLocal6
	case "local7":
		return FacilityLocal7
	default:
		return FacilityLocal0
	}
}
