package types

import "fmt"

// NodeType classifies what a node does within a graph.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeResource  NodeType = "resource"
	NodeTypeAction    NodeType = "action"
	NodeTypeGenerator NodeType = "generator"
	NodeTypeCustom    NodeType = "custom"
)

// Lifecycle trigger subtypes the runtime recognizes by convention.
const (
	TriggerInit   = "/agent/init"
	TriggerStop   = "/agent/stop"
	TriggerCyclic = "/agent/cyclic"
)

// Node is a single vertex of an agent graph. Subtype meaning depends on
// Type; for trigger nodes it is the topic that activates the node. At
// execution time a node uses exactly one of Handler (name resolved against
// a static registry) or Code (inline Lua for custom/trigger nodes); both
// absent means the node is a pass-through.
type Node struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Type        NodeType          `json:"type" yaml:"type"`
	Subtype     string            `json:"subtype" yaml:"subtype"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Handler     string            `json:"handler,omitempty" yaml:"handler,omitempty"`
	Code        string            `json:"code,omitempty" yaml:"code,omitempty"`
	StaticInput map[string]string `json:"static_input,omitempty" yaml:"static_input,omitempty"`
}

// Link is a directed edge from one node to another. Multiple links may
// target the same node (a merge point) or originate from the same node
// (a fan-out point).
type Link struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Graph is an agent's behavior definition: nodes wired together with links.
type Graph struct {
	ID    string  `json:"id" yaml:"id"`
	Name  string  `json:"name" yaml:"name"`
	Nodes []*Node `json:"nodes" yaml:"nodes"`
	Links []Link  `json:"links" yaml:"links"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// IncomingCount returns the number of links targeting the node.
func (g *Graph) IncomingCount(nodeID string) int {
	count := 0
	for _, l := range g.Links {
		if l.Target == nodeID {
			count++
		}
	}
	return count
}

// Parents returns the source ids of all links targeting the node, in link
// order.
func (g *Graph) Parents(nodeID string) []string {
	var parents []string
	for _, l := range g.Links {
		if l.Target == nodeID {
			parents = append(parents, l.Source)
		}
	}
	return parents
}

// Children returns the target ids of all links originating at the node, in
// link order.
func (g *Graph) Children(nodeID string) []string {
	var children []string
	for _, l := range g.Links {
		if l.Source == nodeID {
			children = append(children, l.Target)
		}
	}
	return children
}

// FindTrigger returns the first enabled trigger node whose subtype equals
// topic, or nil.
func (g *Graph) FindTrigger(topic string) *Node {
	for _, n := range g.Nodes {
		if n.Type == NodeTypeTrigger && n.Subtype == topic && n.Enabled {
			return n
		}
	}
	return nil
}

// Validate checks structural invariants: non-empty node ids, unique ids,
// link endpoints that exist, and the absence of cycles. Cyclic graphs make
// merge-counter semantics ill-defined, so they are rejected at load time.
func (g *Graph) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return &Error{Code: ErrInvalidGraph, Message: "node with empty id"}
		}
		if _, dup := ids[n.ID]; dup {
			return &Error{Code: ErrInvalidGraph, Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		ids[n.ID] = struct{}{}
	}
	for _, l := range g.Links {
		if _, ok := ids[l.Source]; !ok {
			return &Error{Code: ErrInvalidGraph, Message: fmt.Sprintf("link source %q not in graph", l.Source)}
		}
		if _, ok := ids[l.Target]; !ok {
			return &Error{Code: ErrInvalidGraph, Message: fmt.Sprintf("link target %q not in graph", l.Target)}
		}
	}
	if cycle := g.findCycle(); cycle != "" {
		return &Error{Code: ErrInvalidGraph, Message: fmt.Sprintf("graph contains a cycle through node %q", cycle)}
	}
	return nil
}

// findCycle runs a three-color DFS over the link structure and returns the
// id of a node on a cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, child := range g.Children(id) {
			switch color[child] {
			case gray:
				return child
			case white:
				if found := visit(child); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if found := visit(n.ID); found != "" {
				return found
			}
		}
	}
	return ""
}
