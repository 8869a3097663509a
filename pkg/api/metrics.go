package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// slaacCollector implements prometheus.Collector, reading the latest
// published engine snapshot on each scrape.
type slaacCollector struct {
	srv *Server

	// Engine counters
	probesSent     *prometheus.Desc
	sendErrors     *prometheus.Desc
	confirmations  *prometheus.Desc
	repliesIgnored *prometheus.Desc
	mapRebuilds    *prometheus.Desc

	// State gauges
	contexts  *prometheus.Desc
	leases    *prometheus.Desc
	addresses *prometheus.Desc

	dnsQueries *prometheus.Desc
}

func newCollector(srv *Server) *slaacCollector {
	return &slaacCollector{
		srv: srv,

		probesSent: prometheus.NewDesc(
			"slaacd_probes_sent_total",
			"Total ICMPv6 echo requests sent to unconfirmed addresses.",
			nil, nil,
		),
		sendErrors: prometheus.NewDesc(
			"slaacd_probe_send_errors_total",
			"Total echo requests that could not be sent.",
			nil, nil,
		),
		confirmations: prometheus.NewDesc(
			"slaacd_confirmations_total",
			"Total addresses confirmed by an echo reply.",
			nil, nil,
		),
		repliesIgnored: prometheus.NewDesc(
			"slaacd_replies_ignored_total",
			"Total echo replies dropped for a wrong identifier or bad format.",
			nil, nil,
		),
		mapRebuilds: prometheus.NewDesc(
			"slaacd_subnet_map_rebuilds_total",
			"Total rebuilds of the context to interface map.",
			nil, nil,
		),
		contexts: prometheus.NewDesc(
			"slaacd_contexts",
			"Configured advertised prefixes.",
			[]string{"interface", "prefix", "bound"}, nil,
		),
		leases: prometheus.NewDesc(
			"slaacd_leases",
			"DHCP leases in the tracking table.",
			nil, nil,
		),
		addresses: prometheus.NewDesc(
			"slaacd_addresses",
			"Tracked SLAAC addresses by state.",
			[]string{"state"}, nil,
		),
		dnsQueries: prometheus.NewDesc(
			"slaacd_dns_queries_total",
			"Total DNS queries answered.",
			nil, nil,
		),
	}
}

func (c *slaacCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.probesSent
	ch <- c.sendErrors
	ch <- c.confirmations
	ch <- c.repliesIgnored
	ch <- c.mapRebuilds
	ch <- c.contexts
	ch <- c.leases
	ch <- c.addresses
	ch <- c.dnsQueries
}

func (c *slaacCollector) Collect(ch chan<- prometheus.Metric) {
	if c.srv.dnsQueries != nil {
		ch <- prometheus.MustNewConstMetric(c.dnsQueries, prometheus.CounterValue,
			float64(c.srv.dnsQueries()))
	}

	snap := c.srv.snapshot()
	if snap == nil {
		return
	}

	st := snap.Stats
	ch <- prometheus.MustNewConstMetric(c.probesSent, prometheus.CounterValue, float64(st.ProbesSent))
	ch <- prometheus.MustNewConstMetric(c.sendErrors, prometheus.CounterValue, float64(st.SendErrors))
	ch <- prometheus.MustNewConstMetric(c.confirmations, prometheus.CounterValue, float64(st.Confirmed))
	ch <- prometheus.MustNewConstMetric(c.repliesIgnored, prometheus.CounterValue, float64(st.RepliesIgnored))
	ch <- prometheus.MustNewConstMetric(c.mapRebuilds, prometheus.CounterValue, float64(st.MapRebuilds))

	// Two contexts may share interface and prefix; fold them into one series.
	type ctxKey struct {
		iface, prefix string
		bound         bool
	}
	ctxCount := make(map[ctxKey]int)
	for _, cs := range snap.Contexts {
		ctxCount[ctxKey{cs.Interface, cs.Prefix.String(), cs.IfIndex != 0}]++
	}
	for k, n := range ctxCount {
		ch <- prometheus.MustNewConstMetric(c.contexts, prometheus.GaugeValue, float64(n),
			k.iface, k.prefix, strconv.FormatBool(k.bound))
	}

	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, float64(len(snap.Leases)))
	ch <- prometheus.MustNewConstMetric(c.addresses, prometheus.GaugeValue,
		float64(snap.Pending()), "pending")
	ch <- prometheus.MustNewConstMetric(c.addresses, prometheus.GaugeValue,
		float64(snap.ConfirmedCount()), "confirmed")
}
