package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// LoadFile reads, parses and compiles the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(string(data))
}

// Parse parses and compiles configuration text.
func Parse(text string) (*Config, error) {
	tree, errs := NewParser(text).Parse()
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse: %w", errors.Join(errs...))
	}
	return CompileConfig(tree)
}

// CompileConfig converts a parsed ConfigTree into a typed Config.
func CompileConfig(tree *ConfigTree) (*Config, error) {
	cfg := &Config{}

	for _, node := range tree.Children {
		switch node.Name() {
		case "system":
			if err := compileSystem(node, &cfg.System); err != nil {
				return nil, fmt.Errorf("system: %w", err)
			}
		case "protocols":
			if err := compileProtocols(node, &cfg.Protocols); err != nil {
				return nil, fmt.Errorf("protocols: %w", err)
			}
		case "services":
			if err := compileServices(node, &cfg.Services); err != nil {
				return nil, fmt.Errorf("services: %w", err)
			}
		default:
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("line %d: unknown statement %q ignored", node.Line, node.Name()))
		}
	}

	cfg.Warnings = append(cfg.Warnings, ValidateConfig(cfg)...)
	return cfg, nil
}

// ValidateConfig performs cross-reference checks on a compiled config.
// It returns non-fatal warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string

	raIfaces := make(map[string]bool)
	naming := false
	for _, ra := range cfg.Protocols.RouterAdvertisement {
		raIfaces[ra.Interface] = true
		for _, pfx := range ra.Prefixes {
			if !pfx.RANames {
				continue
			}
			naming = true
			p, _, _, err := pfx.Bounds()
			if err == nil && p.Bits() != 64 {
				warnings = append(warnings, fmt.Sprintf(
					"interface %s prefix %s: ra-names needs a /64 for SLAAC", ra.Interface, pfx.Prefix))
			}
			if !pfx.Autonomous {
				warnings = append(warnings, fmt.Sprintf(
					"interface %s prefix %s: ra-names on a prefix without the autonomous flag", ra.Interface, pfx.Prefix))
			}
		}
	}

	if dhcp := cfg.Services.DHCPLocalServer; dhcp != nil {
		for id, ifName := range dhcp.Subnets {
			if !raIfaces[ifName] {
				warnings = append(warnings, fmt.Sprintf(
					"dhcp subnet %d: interface %s has no router-advertisement", id, ifName))
			}
		}
		if dhcp.LeaseFile4 == "" && dhcp.LeaseFile6 == "" {
			warnings = append(warnings, "dhcp-local-server: no lease-file configured")
		}
	} else if naming {
		warnings = append(warnings, "ra-names configured without dhcp-local-server")
	}

	if dns := cfg.Services.DNS; dns != nil && dns.Domain == "" {
		warnings = append(warnings, "dns: no domain configured, names are published unqualified")
	}
	return warnings
}

func compileSystem(node *Node, sys *SystemConfig) error {
	for _, child := range node.Children {
		switch child.Name() {
		case "host-name":
			sys.HostName = child.Arg(0)
		case "syslog":
			for _, h := range child.FindChildren("host") {
				host, err := compileSyslogHost(h)
				if err != nil {
					return err
				}
				sys.Syslog = append(sys.Syslog, host)
			}
		case "api":
			api, err := compileAPI(child)
			if err != nil {
				return fmt.Errorf("api: %w", err)
			}
			sys.API = api
		}
	}
	return nil
}

// compileAPI parses the api block:
//
//	api { listen ADDR; user NAME password PASS; api-key KEY; }
func compileAPI(node *Node) (*APIConfig, error) {
	api := &APIConfig{}
	for _, c := range node.Children {
		switch c.Name() {
		case "listen":
			api.Listen = c.Arg(0)
		case "user":
			if len(c.Keys) != 4 || c.Keys[2] != "password" {
				return nil, c.errorf("expected 'user NAME password PASS'")
			}
			if api.Users == nil {
				api.Users = make(map[string]string)
			}
			api.Users[c.Keys[1]] = c.Keys[3]
		case "api-key":
			if c.Arg(0) == "" {
				return nil, c.errorf("missing key")
			}
			api.APIKeys = append(api.APIKeys, c.Arg(0))
		}
	}
	return api, nil
}

// compileSyslogHost parses
// "host ADDR [port N] [severity LEVEL] [facility F] [transport udp|tcp|tls]".
func compileSyslogHost(n *Node) (*SyslogHost, error) {
	if len(n.Keys) < 2 {
		return nil, n.errorf("missing address")
	}
	h := &SyslogHost{Address: n.Keys[1], Port: 514, Severity: "info", Facility: "local0", Transport: "udp"}
	for i := 2; i+1 < len(n.Keys); i += 2 {
		switch n.Keys[i] {
		case "port":
			v, err := strconv.Atoi(n.Keys[i+1])
			if err != nil || v <= 0 || v > 65535 {
				return nil, n.errorf("invalid port %q", n.Keys[i+1])
			}
			h.Port = v
		case "severity":
			h.Severity = n.Keys[i+1]
		case "facility":
			h.Facility = n.Keys[i+1]
		case "transport":
			switch t := n.Keys[i+1]; t {
			case "udp", "tcp", "tls":
				h.Transport = t
			default:
				return nil, n.errorf("unknown transport %q", t)
			}
		default:
			return nil, n.errorf("unknown option %q", n.Keys[i])
		}
	}
	return h, nil
}

func compileProtocols(node *Node, proto *ProtocolsConfig) error {
	if raNode := node.FindChild("router-advertisement"); raNode != nil {
		if err := compileRouterAdvertisement(raNode, proto); err != nil {
			return fmt.Errorf("router-advertisement: %w", err)
		}
	}
	return nil
}

func atoiArg(n *Node) (int, error) {
	v, err := strconv.Atoi(n.Arg(0))
	if err != nil {
		return 0, n.errorf("expected a number")
	}
	return v, nil
}

func compileRouterAdvertisement(node *Node, proto *ProtocolsConfig) error {
	for _, ifNode := range node.FindChildren("interface") {
		if len(ifNode.Keys) < 2 {
			return ifNode.errorf("missing interface name")
		}
		ra := &RAInterfaceConfig{Interface: ifNode.Keys[1]}

		for _, prop := range ifNode.Children {
			var err error
			switch prop.Name() {
			case "managed-configuration":
				ra.ManagedConfig = true
			case "other-stateful-configuration":
				ra.OtherStateful = true
			case "preference":
				ra.Preference = prop.Arg(0)
			case "default-lifetime":
				ra.DefaultLifetime, err = atoiArg(prop)
			case "max-advertisement-interval":
				ra.MaxAdvInterval, err = atoiArg(prop)
			case "min-advertisement-interval":
				ra.MinAdvInterval, err = atoiArg(prop)
			case "link-mtu":
				ra.LinkMTU, err = atoiArg(prop)
			case "dns-server-address":
				if prop.Arg(0) != "" {
					ra.DNSServers = append(ra.DNSServers, prop.Arg(0))
				}
			case "prefix":
				var pfx *RAPrefix
				pfx, err = compileRAPrefix(prop)
				if err == nil {
					ra.Prefixes = append(ra.Prefixes, pfx)
				}
			}
			if err != nil {
				return fmt.Errorf("interface %s: %w", ra.Interface, err)
			}
		}

		proto.RouterAdvertisement = append(proto.RouterAdvertisement, ra)
	}
	return nil
}

func compileRAPrefix(n *Node) (*RAPrefix, error) {
	if len(n.Keys) < 2 {
		return nil, n.errorf("missing prefix")
	}
	pfx := &RAPrefix{
		Prefix:     n.Keys[1],
		OnLink:     true,
		Autonomous: true,
	}
	for _, child := range n.Children {
		var err error
		switch child.Name() {
		case "on-link":
			pfx.OnLink = true
		case "no-onlink":
			pfx.OnLink = false
		case "autonomous":
			pfx.Autonomous = true
		case "no-autonomous":
			pfx.Autonomous = false
		case "valid-lifetime":
			pfx.ValidLifetime, err = atoiArg(child)
		case "preferred-lifetime":
			pfx.PreferredLife, err = atoiArg(child)
		case "range":
			if len(child.Keys) != 3 {
				return nil, child.errorf("expected 'range START END'")
			}
			pfx.RangeStart, pfx.RangeEnd = child.Keys[1], child.Keys[2]
		case "ra-names":
			pfx.RANames = true
		}
		if err != nil {
			return nil, err
		}
	}
	if _, _, _, err := pfx.Bounds(); err != nil {
		return nil, n.errorf("%v", err)
	}
	return pfx, nil
}

func compileServices(node *Node, svc *ServicesConfig) error {
	if dhcpNode := node.FindChild("dhcp-local-server"); dhcpNode != nil {
		dhcp, err := compileDHCPLocalServer(dhcpNode)
		if err != nil {
			return fmt.Errorf("dhcp-local-server: %w", err)
		}
		svc.DHCPLocalServer = dhcp
	}
	if dnsNode := node.FindChild("dns"); dnsNode != nil {
		dns := &DNSConfig{}
		for _, prop := range dnsNode.Children {
			switch prop.Name() {
			case "listen":
				dns.Listen = prop.Arg(0)
			case "domain":
				dns.Domain = prop.Arg(0)
			case "ttl":
				v, err := atoiArg(prop)
				if err != nil {
					return fmt.Errorf("dns: %w", err)
				}
				dns.TTL = v
			}
		}
		svc.DNS = dns
	}
	return nil
}

func compileDHCPLocalServer(node *Node) (*DHCPLocalServerConfig, error) {
	dhcp := &DHCPLocalServerConfig{Subnets: make(map[int]string)}

	for _, prop := range node.Children {
		switch prop.Name() {
		case "lease-file":
			// lease-file inet|inet6 PATH
			if len(prop.Keys) != 3 {
				return nil, prop.errorf("expected 'lease-file inet|inet6 PATH'")
			}
			switch prop.Keys[1] {
			case "inet":
				dhcp.LeaseFile4 = prop.Keys[2]
			case "inet6":
				dhcp.LeaseFile6 = prop.Keys[2]
			default:
				return nil, prop.errorf("unknown family %q", prop.Keys[1])
			}
		case "subnet":
			id, err := strconv.Atoi(prop.Arg(0))
			if err != nil || id <= 0 {
				return nil, prop.errorf("invalid subnet id %q", prop.Arg(0))
			}
			ifNode := prop.FindChild("interface")
			if ifNode == nil || ifNode.Arg(0) == "" {
				return nil, prop.errorf("missing interface")
			}
			dhcp.Subnets[id] = ifNode.Arg(0)
		}
	}
	return dhcp, nil
}
