package domain

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrOrdinalOrder is returned when a node does not advance the chain's ordinal.
	ErrOrdinalOrder = errors.New("error chain: ordinals must be strictly increasing")

	// ErrDuplicateNode is returned when a node id is already present.
	ErrDuplicateNode = errors.New("error chain: duplicate node id")
)

// ErrorChain is the arena of ErrorNodes produced by one logical call.
// The first node added becomes the root; every later node is parented to
// the root and appended to its children.
type ErrorChain struct {
	callID string
	nodes  []ErrorNode
	index  map[ErrorID]int
}

// NewErrorChain creates an empty chain for a logical call.
func NewErrorChain(callID string) *ErrorChain {
	return &ErrorChain{
		callID: callID,
		index:  make(map[ErrorID]int),
	}
}

// CallID returns the logical call the chain belongs to.
func (c *ErrorChain) CallID() string {
	return c.callID
}

// Link returns n with the call id and parent it will have once added,
// without storing it.
func (c *ErrorChain) Link(n ErrorNode) ErrorNode {
	n.CallID = c.callID
	n.ChildIDs = nil
	n.ParentID = ""
	if len(c.nodes) > 0 {
		n.ParentID = c.nodes[0].ID
	}
	return n
}

// Add links n into the chain and returns the stored copy.
func (c *ErrorChain) Add(n ErrorNode) (ErrorNode, error) {
	if _, ok := c.index[n.ID]; ok {
		return ErrorNode{}, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if last, ok := c.Last(); ok && n.Ordinal <= last.Ordinal {
		return ErrorNode{}, fmt.Errorf("%w: %d after %d", ErrOrdinalOrder, n.Ordinal, last.Ordinal)
	}

	n = c.Link(n)
	if len(c.nodes) > 0 {
		c.nodes[0].ChildIDs = append(c.nodes[0].ChildIDs, n.ID)
	}

	c.index[n.ID] = len(c.nodes)
	c.nodes = append(c.nodes, n)
	return n, nil
}

// Root returns the first failure of the chain.
func (c *ErrorChain) Root() (ErrorNode, bool) {
	if len(c.nodes) == 0 {
		return ErrorNode{}, false
	}
	return c.cloneAt(0), true
}

// Last returns the most recent failure of the chain.
func (c *ErrorChain) Last() (ErrorNode, bool) {
	if len(c.nodes) == 0 {
		return ErrorNode{}, false
	}
	return c.cloneAt(len(c.nodes) - 1), true
}

// Get returns the node with the given id.
func (c *ErrorChain) Get(id ErrorID) (ErrorNode, bool) {
	i, ok := c.index[id]
	if !ok {
		return ErrorNode{}, false
	}
	return c.cloneAt(i), true
}

// Children returns the root's children in insertion order.
func (c *ErrorChain) Children() []ErrorNode {
	if len(c.nodes) < 2 {
		return nil
	}
	out := make([]ErrorNode, 0, len(c.nodes)-1)
	for _, id := range c.nodes[0].ChildIDs {
		out = append(out, c.cloneAt(c.index[id]))
	}
	return out
}

// Nodes returns every node, root first.
func (c *ErrorChain) Nodes() []ErrorNode {
	out := make([]ErrorNode, len(c.nodes))
	for i := range c.nodes {
		out[i] = c.cloneAt(i)
	}
	return out
}

// Len returns the number of failures recorded.
func (c *ErrorChain) Len() int {
	return len(c.nodes)
}

// Errors returns the error of every node, root first.
func (c *ErrorChain) Errors() []error {
	errs := make([]error, len(c.nodes))
	for i, n := range c.nodes {
		errs[i] = n.Err()
	}
	return errs
}

// Validate checks the structural invariants of the chain.
func (c *ErrorChain) Validate() error {
	roots := 0
	for i, n := range c.nodes {
		if n.ParentID == "" {
			roots++
		} else if n.ParentID != c.nodes[0].ID {
			return fmt.Errorf("error chain: node %s parented to %s, not the root", n.ID, n.ParentID)
		}
		if i > 0 && n.Ordinal <= c.nodes[i-1].Ordinal {
			return fmt.Errorf("%w: node %s", ErrOrdinalOrder, n.ID)
		}
	}
	if len(c.nodes) > 0 && roots != 1 {
		return fmt.Errorf("error chain: %d roots", roots)
	}
	if len(c.nodes) > 0 && len(c.nodes[0].ChildIDs) != len(c.nodes)-1 {
		return fmt.Errorf("error chain: root lists %d children, chain has %d",
			len(c.nodes[0].ChildIDs), len(c.nodes)-1)
	}
	return nil
}

func (c *ErrorChain) cloneAt(i int) ErrorNode {
	n := c.nodes[i]
	n.ChildIDs = slices.Clone(n.ChildIDs)
	return n
}
