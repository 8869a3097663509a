// Package cmdtree defines the slaacctl command tree used for tab
// completion, ? help and command dispatch.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Values supplies the dynamic completion values that depend on the
// daemon's state.
type Values interface {
	Hostnames() []string
}

// Node defines a completion tree node with description, children, and
// optional dynamic values. A node with DynamicFn takes one value.
type Node struct {
	Desc      string
	Children  map[string]*Node
	DynamicFn func(v Values) []string

	// Options marks Children as options that may follow each other in
	// any order.
	Options bool
}

// Candidate holds a command name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

func hostnames(v Values) []string {
	if v == nil {
		return nil
	}
	return v.Hostnames()
}

func fixed(values ...string) func(Values) []string {
	return func(Values) []string { return values }
}

// OperationalTree defines every slaacctl command.
var OperationalTree = map[string]*Node{
	"show": {Desc: "Show information", Children: map[string]*Node{
		"status": {Desc: "Show daemon status and counters"},
		"slaac": {Desc: "Show SLAAC address tracking", Children: map[string]*Node{
			"leases": {Desc: "Show leases and their SLAAC addresses", Options: true, Children: map[string]*Node{
				"hostname":  {Desc: "Only leases of one host", DynamicFn: hostnames},
				"pending":   {Desc: "Only leases with unconfirmed addresses"},
				"confirmed": {Desc: "Only leases with confirmed addresses"},
			}},
			"hosts":    {Desc: "Show names published in DNS"},
			"contexts": {Desc: "Show advertised prefixes and their interfaces"},
		}},
		"events": {Desc: "Show recent address events", Options: true, Children: map[string]*Node{
			"type":     {Desc: "Filter by event type", DynamicFn: fixed("track", "confirm", "drop")},
			"hostname": {Desc: "Filter by host", DynamicFn: hostnames},
			"address":  {Desc: "Filter by SLAAC address", DynamicFn: fixed()},
			"count":    {Desc: "Number of events to show", DynamicFn: fixed()},
		}},
		"configuration": {Desc: "Show running configuration", Children: map[string]*Node{
			"compare": {Desc: "Show changes made by the last reload"},
		}},
	}},
	"monitor": {Desc: "Show real-time information", Children: map[string]*Node{
		"events": {Desc: "Stream address events until interrupted", Options: true, Children: map[string]*Node{
			"type":     {Desc: "Filter by event type", DynamicFn: fixed("track", "confirm", "drop")},
			"hostname": {Desc: "Filter by host", DynamicFn: hostnames},
		}},
	}},
	"request": {Desc: "Make system-level requests", Children: map[string]*Node{
		"reload": {Desc: "Re-read the configuration file"},
	}},
	"help": {Desc: "Show command help"},
	"quit": {Desc: "Exit"},
	"exit": {Desc: "Exit"},
}

// KeysFromTree returns a sorted list of keys from a Node map.
func KeysFromTree(tree map[string]*Node) []string {
	keys := KeysOf(tree)
	sort.Strings(keys)
	return keys
}

// HelpCandidates returns Candidates from a tree's children for help display.
func HelpCandidates(tree map[string]*Node) []Candidate {
	candidates := make([]Candidate, 0, len(tree))
	for name, node := range tree {
		candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
	}
	return candidates
}

// CompleteFromTree walks the tree to find completion candidates for the
// given words and partial. v may be nil, in which case host names are not
// offered.
func CompleteFromTree(tree map[string]*Node, words []string, partial string, v Values) []string {
	var names []string
	for _, c := range CompleteFromTreeWithDesc(tree, words, partial, v) {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// CompleteFromTreeWithDesc walks the tree returning name+description pairs.
func CompleteFromTreeWithDesc(tree map[string]*Node, words []string, partial string, v Values) []Candidate {
	current := tree
	var parent, pending *Node
	for _, w := range words {
		if pending != nil {
			// w is the value of the previous option.
			pending = nil
			continue
		}
		node, ok := current[w]
		if !ok {
			return nil
		}
		switch {
		case node.DynamicFn != nil:
			pending = node
		case node.Children != nil:
			parent = node
			current = node.Children
		case parent != nil && parent.Options:
		default:
			return nil
		}
	}

	var candidates []Candidate
	if pending != nil {
		for _, name := range pending.DynamicFn(v) {
			if strings.HasPrefix(name, partial) {
				candidates = append(candidates, Candidate{Name: name, Desc: pending.Desc})
			}
		}
		return candidates
	}
	for name, node := range current {
		if strings.HasPrefix(name, partial) {
			candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
		}
	}
	return candidates
}

// WriteHelp prints aligned completion candidates to w.
// The entire output is built as a single string and written in one call
// so that readline's wrapWriter triggers only one Refresh cycle.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// KeysOf returns an unsorted list of keys from a Node map.
func KeysOf(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
