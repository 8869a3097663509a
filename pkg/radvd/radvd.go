// Package radvd renders radvd.conf for the advertised prefixes, keeps the
// radvd daemon in step with it, and sends the out-of-cycle Router
// Advertisement bursts that prompt clients to configure SLAAC addresses.
package radvd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/psaab/slaacd/pkg/config"
)

const (
	// DefaultConfigPath is the radvd config file managed by slaacd.
	DefaultConfigPath = "/etc/radvd.conf"
	// DefaultPidFile is where radvd records its pid.
	DefaultPidFile = "/run/radvd.pid"
)

// Manager writes radvd.conf and reloads radvd when it changes.
type Manager struct {
	configPath string
	pidFile    string
	run        func(name string, args ...string) error
	log        *slog.Logger
}

// New creates a Manager for the default paths.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		configPath: DefaultConfigPath,
		pidFile:    DefaultPidFile,
		run:        func(name string, args ...string) error { return exec.Command(name, args...).Run() },
		log:        log,
	}
}

// Apply renders the RA configuration and reloads radvd, starting it if the
// reload fails. An unchanged file is not rewritten and radvd is left alone.
func (m *Manager) Apply(ras []*config.RAInterfaceConfig, domain string) error {
	if len(ras) == 0 {
		return m.Clear()
	}

	cfg := generateConfig(ras, domain)
	if cur, err := os.ReadFile(m.configPath); err == nil && string(cur) == cfg {
		m.log.Debug("radvd config unchanged", "path", m.configPath)
		return nil
	}
	if err := os.WriteFile(m.configPath, []byte(cfg), 0644); err != nil {
		return fmt.Errorf("write radvd config: %w", err)
	}
	m.log.Info("radvd config written", "path", m.configPath, "interfaces", len(ras))

	if err := m.reload(); err != nil {
		m.log.Warn("radvd reload failed, attempting start", "err", err)
		return m.start()
	}
	return nil
}

// Clear stops radvd and removes its config.
func (m *Manager) Clear() error {
	m.stop()
	if err := os.Remove(m.configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove radvd config: %w", err)
	}
	return nil
}

func generateConfig(ras []*config.RAInterfaceConfig, domain string) string {
	var b strings.Builder

	b.WriteString("# slaacd managed radvd config - do not edit\n\n")

	for _, ra := range ras {
		fmt.Fprintf(&b, "interface %s\n{\n", ra.Interface)
		b.WriteString("    AdvSendAdvert on;\n")

		if ra.ManagedConfig {
			b.WriteString("    AdvManagedFlag on;\n")
		}
		if ra.OtherStateful {
			b.WriteString("    AdvOtherConfigFlag on;\n")
		}
		if ra.DefaultLifetime > 0 {
			fmt.Fprintf(&b, "    AdvDefaultLifetime %d;\n", ra.DefaultLifetime)
		}
		if ra.MaxAdvInterval > 0 {
			fmt.Fprintf(&b, "    MaxRtrAdvInterval %d;\n", ra.MaxAdvInterval)
		}
		if ra.MinAdvInterval > 0 {
			fmt.Fprintf(&b, "    MinRtrAdvInterval %d;\n", ra.MinAdvInterval)
		}
		if ra.LinkMTU > 0 {
			fmt.Fprintf(&b, "    AdvLinkMTU %d;\n", ra.LinkMTU)
		}
		if ra.Preference != "" {
			fmt.Fprintf(&b, "    AdvDefaultPreference %s;\n", ra.Preference)
		}
		b.WriteString("\n")

		for _, pfx := range ra.Prefixes {
			if pfx.RANames {
				b.WriteString("    # ra-names\n")
			}
			fmt.Fprintf(&b, "    prefix %s\n    {\n", pfx.Prefix)
			fmt.Fprintf(&b, "        AdvOnLink %s;\n", onOff(pfx.OnLink))
			fmt.Fprintf(&b, "        AdvAutonomous %s;\n", onOff(pfx.Autonomous))
			if pfx.ValidLifetime > 0 {
				fmt.Fprintf(&b, "        AdvValidLifetime %d;\n", pfx.ValidLifetime)
			}
			if pfx.PreferredLife > 0 {
				fmt.Fprintf(&b, "        AdvPreferredLifetime %d;\n", pfx.PreferredLife)
			}
			b.WriteString("    };\n\n")
		}

		if len(ra.DNSServers) > 0 {
			fmt.Fprintf(&b, "    RDNSS %s\n    {\n    };\n\n", strings.Join(ra.DNSServers, " "))
		}
		if domain != "" {
			fmt.Fprintf(&b, "    DNSSL %s\n    {\n    };\n\n", domain)
		}

		b.WriteString("};\n\n")
	}

	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (m *Manager) start() error {
	if err := m.run("radvd", "-C", m.configPath, "-p", m.pidFile); err != nil {
		return fmt.Errorf("start radvd: %w", err)
	}
	m.log.Info("radvd started")
	return nil
}

func (m *Manager) reload() error {
	if err := m.run("systemctl", "reload", "radvd"); err == nil {
		m.log.Info("radvd reloaded via systemctl")
		return nil
	}

	pid, err := m.pid()
	if err != nil {
		return err
	}
	if err := m.run("kill", "-HUP", pid); err != nil {
		return fmt.Errorf("radvd SIGHUP: %w", err)
	}
	m.log.Info("radvd reloaded via SIGHUP")
	return nil
}

func (m *Manager) stop() {
	if m.run("systemctl", "stop", "radvd") == nil {
		m.log.Info("radvd stopped via systemctl")
		return
	}
	pid, err := m.pid()
	if err != nil {
		return // not running
	}
	m.run("kill", pid)
	m.log.Info("radvd stopped")
}

func (m *Manager) pid() (string, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return "", fmt.Errorf("radvd pidfile: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
