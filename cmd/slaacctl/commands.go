package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/psaab/slaacd/pkg/api"
	"github.com/psaab/slaacd/pkg/cmdtree"
	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

func (c *ctl) handleShow(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "show: specify what to show")
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree["show"].Children))
		return nil
	}

	switch args[0] {
	case "status":
		return c.showStatus()
	case "slaac":
		if len(args) < 2 {
			return fmt.Errorf("show slaac: specify leases, hosts or contexts")
		}
		switch args[1] {
		case "leases":
			return c.showLeases(args[2:])
		case "hosts":
			return c.showHosts()
		case "contexts":
			return c.showContexts()
		}
		return fmt.Errorf("show slaac: unknown option %q", args[1])
	case "events":
		return c.showEvents(args[1:])
	case "configuration":
		if len(args) > 1 && args[1] == "compare" {
			return c.showConfigCompare(args[2:])
		}
		return c.showConfiguration()
	default:
		return fmt.Errorf("unknown show target: %s", args[0])
	}
}

func (c *ctl) showStatus() error {
	var st api.StatusResponse
	if err := c.client.get(context.Background(), "/api/v1/status", nil, &st); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Uptime:              %s\n", st.Uptime)
	fmt.Fprintf(c.out, "Echo identifier:     %d\n", st.PingID)
	fmt.Fprintf(c.out, "Contexts:            %d (%d bound)\n", st.Contexts, st.BoundContexts)
	fmt.Fprintf(c.out, "Leases:              %d\n", st.Leases)
	fmt.Fprintf(c.out, "Addresses:           %d confirmed, %d pending\n", st.Confirmed, st.Pending)
	fmt.Fprintf(c.out, "Probes sent:         %d (%d send errors)\n", st.Stats.ProbesSent, st.Stats.SendErrors)
	fmt.Fprintf(c.out, "Replies ignored:     %d\n", st.Stats.RepliesIgnored)
	fmt.Fprintf(c.out, "Subnet map rebuilds: %d\n", st.Stats.MapRebuilds)
	fmt.Fprintf(c.out, "DNS queries:         %d\n", st.DNSQueries)
	return nil
}

// parseOptions reads "name value" pairs and bare flags from args. Names in
// valued take one argument.
func parseOptions(args []string, valued, flags []string) (map[string]string, error) {
	opts := make(map[string]string)
	for i := 0; i < len(args); i++ {
		name := args[i]
		switch {
		case contains(valued, name):
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s: missing value", name)
			}
			opts[name] = args[i+1]
			i++
		case contains(flags, name):
			opts[name] = ""
		default:
			return nil, fmt.Errorf("unknown option %q", name)
		}
	}
	return opts, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (c *ctl) showLeases(args []string) error {
	opts, err := parseOptions(args, []string{"hostname"}, []string{"pending", "confirmed"})
	if err != nil {
		return err
	}
	q := url.Values{}
	if h, ok := opts["hostname"]; ok {
		q.Set("hostname", h)
	}
	if _, ok := opts["pending"]; ok {
		q.Set("state", "pending")
	}
	if _, ok := opts["confirmed"]; ok {
		if q.Has("state") {
			return fmt.Errorf("pending and confirmed are exclusive")
		}
		q.Set("state", "confirmed")
	}

	var leases []slaac.LeaseStatus
	if err := c.client.get(context.Background(), "/api/v1/slaac/leases", q, &leases); err != nil {
		return err
	}
	if len(leases) == 0 {
		fmt.Fprintln(c.out, "No leases")
		return nil
	}

	now := time.Now()
	fmt.Fprintf(c.out, "%-20s %-17s %-40s %s\n", "Hostname", "Hardware address", "SLAAC address", "State")
	for _, l := range leases {
		if len(l.Addresses) == 0 {
			fmt.Fprintf(c.out, "%-20s %-17s %-40s %s\n", l.Hostname, l.HWAddr, "-", "-")
			continue
		}
		for _, a := range l.Addresses {
			fmt.Fprintf(c.out, "%-20s %-17s %-40s %s\n", l.Hostname, l.HWAddr, a.Address, addressState(a, now))
		}
	}
	return nil
}

func addressState(a slaac.AddressStatus, now time.Time) string {
	if a.Confirmed {
		return "confirmed"
	}
	if a.NextProbe.IsZero() {
		return fmt.Sprintf("pending (probe %d)", a.Attempt)
	}
	wait := a.NextProbe.Sub(now).Round(time.Second)
	if wait < 0 {
		wait = 0
	}
	return fmt.Sprintf("pending (probe %d in %s)", a.Attempt, wait)
}

func (c *ctl) showHosts() error {
	var hosts []api.HostEntry
	if err := c.client.get(context.Background(), "/api/v1/slaac/hosts", nil, &hosts); err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintln(c.out, "No confirmed hosts")
		return nil
	}
	fmt.Fprintf(c.out, "%-20s %s\n", "Hostname", "Addresses")
	for _, h := range hosts {
		fmt.Fprintf(c.out, "%-20s %s\n", h.Hostname, strings.Join(h.Addresses, ", "))
	}
	return nil
}

func (c *ctl) showContexts() error {
	var snap slaac.Snapshot
	if err := c.client.get(context.Background(), "/api/v1/slaac", nil, &snap); err != nil {
		return err
	}
	if len(snap.Contexts) == 0 {
		fmt.Fprintln(c.out, "No contexts configured")
		return nil
	}
	fmt.Fprintf(c.out, "%-12s %-24s %-8s %-8s %s\n", "Interface", "Prefix", "Names", "Ifindex", "Local address")
	for _, ctx := range snap.Contexts {
		names := "no"
		if ctx.Naming {
			names = "yes"
		}
		local, ifindex := "-", "unbound"
		if ctx.IfIndex != 0 {
			ifindex = strconv.Itoa(ctx.IfIndex)
			local = ctx.Local.String()
		}
		fmt.Fprintf(c.out, "%-12s %-24s %-8s %-8s %s\n", ctx.Interface, ctx.Prefix, names, ifindex, local)
	}
	return nil
}

func (c *ctl) showEvents(args []string) error {
	opts, err := parseOptions(args, []string{"type", "hostname", "address", "count"}, nil)
	if err != nil {
		return err
	}
	q := eventQuery(opts)
	if n, ok := opts["count"]; ok {
		if _, err := strconv.Atoi(n); err != nil {
			return fmt.Errorf("count: %q is not a number", n)
		}
		q.Set("limit", n)
	}

	var events []logging.EventRecord
	if err := c.client.get(context.Background(), "/api/v1/events", q, &events); err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No events")
		return nil
	}
	for _, ev := range events {
		c.printEvent(ev)
	}
	return nil
}

func eventQuery(opts map[string]string) url.Values {
	q := url.Values{}
	for _, k := range []string{"type", "hostname", "address"} {
		if v, ok := opts[k]; ok {
			q.Set(k, v)
		}
	}
	return q
}

func (c *ctl) printEvent(ev logging.EventRecord) {
	line := fmt.Sprintf("%s %-13s %-20s %s", ev.Time.Local().Format("2006-01-02 15:04:05"), ev.Type, ev.Hostname, ev.Address)
	if ev.Interface != "" {
		line += " on " + ev.Interface
	}
	fmt.Fprintln(c.out, line)
}

func (c *ctl) monitorEvents(args []string) error {
	opts, err := parseOptions(args, []string{"type", "hostname"}, nil)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintln(c.out, "Monitoring address events, press Ctrl-C to stop")
	return c.client.stream(ctx, "/api/v1/events/stream", eventQuery(opts), func(_ string, data []byte) {
		var ev logging.EventRecord
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		c.printEvent(ev)
	})
}

func (c *ctl) showConfiguration() error {
	var resp api.ConfigResponse
	if err := c.client.get(context.Background(), "/api/v1/config", nil, &resp); err != nil {
		return err
	}
	fmt.Fprint(c.out, resp.Output)
	return nil
}

func (c *ctl) showConfigCompare(args []string) error {
	q := url.Values{}
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("compare: %q is not a number", args[0])
		}
		q.Set("n", args[0])
	}
	var resp api.ConfigResponse
	if err := c.client.get(context.Background(), "/api/v1/config/compare", q, &resp); err != nil {
		return err
	}
	fmt.Fprint(c.out, resp.Output)
	return nil
}

func (c *ctl) requestReload() error {
	if err := c.client.post(context.Background(), "/api/v1/config/reload", nil); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	fmt.Fprintln(c.out, "configuration reloaded")
	return nil
}
