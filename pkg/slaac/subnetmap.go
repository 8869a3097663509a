package slaac

// RequestSubnetMapRebuild marks the subnet map stale. It is rebuilt at the
// start of the next Sweep, so a burst of interface events costs one
// enumeration.
func (e *Engine) RequestSubnetMapRebuild() {
	e.rebuild = true
}

// RebuildSubnetMap binds every naming context to the interface that carries
// a live address on the context's prefix. Contexts with no such address are
// left unbound. A completed rebuild satisfies any pending request.
//
// Tentative addresses bind like any other: a context is usable as soon as
// its address is configured, whether or not duplicate address detection
// has finished.
func (e *Engine) RebuildSubnetMap() {
	e.rebuild = false
	for _, c := range e.contexts {
		c.IfIndex = 0
	}
	if !e.hasNaming() {
		return
	}
	e.stats.MapRebuilds++

	err := e.enum.EnumerateIPv6(func(la LocalAddr) {
		for _, c := range e.contexts {
			if c.Naming && c.onLink(la) {
				c.IfIndex = la.IfIndex
				c.Local = la.Addr
			}
		}
	})
	if err != nil {
		e.log.Warn("slaac: interface enumeration failed", "err", err)
	}
}

// onLink reports whether the whole context range lies on the network of la.
func (c *Context) onLink(la LocalAddr) bool {
	if la.PrefixLen != c.PrefixLen {
		return false
	}
	p, err := la.Addr.WithZone("").Prefix(la.PrefixLen)
	if err != nil {
		return false
	}
	return p.Contains(c.Start) && p.Contains(c.End)
}
