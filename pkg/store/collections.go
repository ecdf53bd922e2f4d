package store

import "fmt"

// Collections names the three record collections of a graph. Backends use
// them as table names, key prefixes or labels.
type Collections struct {
	Nodes       string
	Edges       string
	Communities string
}

// DefaultCollections returns the names used when none are configured.
func DefaultCollections() Collections {
	return Collections{Nodes: "nodes", Edges: "edges", Communities: "communities"}
}

// WithDefaults fills empty names from DefaultCollections.
func (c Collections) WithDefaults() Collections {
	d := DefaultCollections()
	if c.Nodes == "" {
		c.Nodes = d.Nodes
	}
	if c.Edges == "" {
		c.Edges = d.Edges
	}
	if c.Communities == "" {
		c.Communities = d.Communities
	}
	return c
}

// Validate rejects names that are not plain identifiers, so they can be
// spliced into SQL and Cypher without quoting.
func (c Collections) Validate() error {
	names := []string{c.Nodes, c.Edges, c.Communities}
	for _, name := range names {
		if !validIdentifier(name) {
			return fmt.Errorf("%w: invalid collection name %q", ErrInvalidArgument, name)
		}
	}
	if c.Nodes == c.Edges || c.Nodes == c.Communities || c.Edges == c.Communities {
		return fmt.Errorf("%w: collection names must be distinct", ErrInvalidArgument)
	}
	return nil
}

func validIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
