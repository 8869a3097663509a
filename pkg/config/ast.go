package config

import (
	"fmt"
	"strings"
)

// Node is one statement of the configuration tree. It is either a leaf
// (terminated by ;) or a block (children in {}).
type Node struct {
	// Keys is the sequence of words forming the statement, e.g.
	//   "interface trust0"             -> ["interface", "trust0"]
	//   "range 2001:db8::10 2001:db8::ff" -> ["range", "2001:db8::10", "2001:db8::ff"]
	Keys []string

	// Children are the nodes within the braces. nil for leaves.
	Children []*Node

	IsLeaf bool

	Line   int
	Column int
}

// Name returns the first key of the node.
func (n *Node) Name() string {
	if len(n.Keys) == 0 {
		return ""
	}
	return n.Keys[0]
}

// Arg returns key i+1, or "" when absent.
func (n *Node) Arg(i int) string {
	if i+1 >= len(n.Keys) {
		return ""
	}
	return n.Keys[i+1]
}

// KeyPath returns the full key path as a single string.
func (n *Node) KeyPath() string {
	return strings.Join(n.Keys, " ")
}

// FindChild returns the first child whose first key matches name.
func (n *Node) FindChild(name string) *Node {
	return findChild(n.Children, name)
}

// FindChildren returns all children whose first key matches name.
func (n *Node) FindChildren(name string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Name() == name {
			result = append(result, child)
		}
	}
	return result
}

func (n *Node) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s: %s", n.Line, n.KeyPath(), fmt.Sprintf(format, args...))
}

// ConfigTree is the root of a parsed configuration.
type ConfigTree struct {
	Children []*Node
}

// FindChild returns the first top-level child matching name.
func (t *ConfigTree) FindChild(name string) *Node {
	return findChild(t.Children, name)
}

func findChild(nodes []*Node, name string) *Node {
	for _, child := range nodes {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// Format renders the tree as hierarchical configuration text.
func (t *ConfigTree) Format() string {
	var b strings.Builder
	formatNodes(&b, t.Children, 0)
	return b.String()
}

func formatNodes(b *strings.Builder, nodes []*Node, indent int) {
	prefix := strings.Repeat("    ", indent)
	for _, n := range nodes {
		if n.IsLeaf {
			fmt.Fprintf(b, "%s%s;\n", prefix, n.KeyPath())
		} else {
			fmt.Fprintf(b, "%s%s {\n", prefix, n.KeyPath())
			formatNodes(b, n.Children, indent+1)
			fmt.Fprintf(b, "%s}\n", prefix)
		}
	}
}

// FormatSet renders the tree as flat "set" lines, one per leaf. Empty
// blocks produce a line of their own.
func (t *ConfigTree) FormatSet() string {
	var b strings.Builder
	formatSet(&b, t.Children, nil)
	return b.String()
}

func formatSet(b *strings.Builder, nodes []*Node, path []string) {
	for _, n := range nodes {
		p := append(path[:len(path):len(path)], n.Keys...)
		if n.IsLeaf || len(n.Children) == 0 {
			fmt.Fprintf(b, "set %s\n", strings.Join(p, " "))
			continue
		}
		formatSet(b, n.Children, p)
	}
}
