package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

const defaultEventLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// currentSnapshot writes 503 and returns nil when no snapshot exists yet.
func (s *Server) currentSnapshot(w http.ResponseWriter) *slaac.Snapshot {
	snap := s.snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not started")
	}
	return snap
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Uptime:       time.Since(s.startTime).Truncate(time.Second).String(),
		ConfigLoaded: s.configText != nil,
	}
	if s.dnsQueries != nil {
		resp.DNSQueries = s.dnsQueries()
	}
	if snap := s.snapshot(); snap != nil {
		resp.PingID = snap.PingID
		resp.Contexts = len(snap.Contexts)
		for _, c := range snap.Contexts {
			if c.IfIndex != 0 {
				resp.BoundContexts++
			}
		}
		resp.Leases = len(snap.Leases)
		resp.Pending = snap.Pending()
		resp.Confirmed = snap.ConfirmedCount()
		resp.Stats = snap.Stats
	}
	writeOK(w, resp)
}

func (s *Server) slaacHandler(w http.ResponseWriter, _ *http.Request) {
	if snap := s.currentSnapshot(w); snap != nil {
		writeOK(w, snap)
	}
}

// leasesHandler lists leases. ?hostname= selects one host, ?state=pending
// or ?state=confirmed keeps leases with at least one address in that state.
func (s *Server) leasesHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}
	host := r.URL.Query().Get("hostname")
	state := r.URL.Query().Get("state")
	switch state {
	case "", "pending", "confirmed":
	default:
		writeError(w, http.StatusBadRequest, "state must be pending or confirmed")
		return
	}

	leases := []slaac.LeaseStatus{}
	for _, l := range snap.Leases {
		if host != "" && !strings.EqualFold(l.Hostname, host) {
			continue
		}
		if state != "" && !hasState(l, state == "confirmed") {
			continue
		}
		leases = append(leases, l)
	}
	writeOK(w, leases)
}

func hasState(l slaac.LeaseStatus, confirmed bool) bool {
	for _, a := range l.Addresses {
		if a.Confirmed == confirmed {
			return true
		}
	}
	return false
}

func (s *Server) hostsHandler(w http.ResponseWriter, _ *http.Request) {
	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}
	hosts := make([]HostEntry, 0, len(snap.Hosts))
	for name, addrs := range snap.Hosts {
		e := HostEntry{Hostname: name}
		for _, a := range addrs {
			e.Addresses = append(e.Addresses, a.String())
		}
		hosts = append(hosts, e)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Hostname < hosts[j].Hostname })
	writeOK(w, hosts)
}

// eventsHandler returns recent address events, newest first. Supports
// ?type=, ?hostname=, ?address= and ?limit=.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.eventBuf == nil {
		writeError(w, http.StatusServiceUnavailable, "event buffer not available")
		return
	}
	q := r.URL.Query()
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events := s.eventBuf.LatestFiltered(limit, filterFromQuery(r))
	if events == nil {
		events = []logging.EventRecord{}
	}
	writeOK(w, events)
}

func filterFromQuery(r *http.Request) logging.EventFilter {
	q := r.URL.Query()
	return logging.EventFilter{
		Type:     q.Get("type"),
		Hostname: q.Get("hostname"),
		Address:  q.Get("address"),
	}
}

func (s *Server) configHandler(w http.ResponseWriter, _ *http.Request) {
	if s.configText == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}
	writeOK(w, ConfigResponse{Output: s.configText()})
}

// compareHandler diffs a previous configuration (?n=, default 1) against the
// running one.
func (s *Server) compareHandler(w http.ResponseWriter, r *http.Request) {
	if s.compare == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration history")
		return
	}
	n := 1
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
	}
	diff, err := s.compare(n)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, ConfigResponse{Output: diff})
}

func (s *Server) reloadHandler(w http.ResponseWriter, _ *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusServiceUnavailable, "reload not available")
		return
	}
	if err := s.reload(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]string{"status": "reloaded"})
}
