package uns

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemNode is one node held by MemStore.
type MemNode struct {
	ID       string
	ParentID string
	Name     string
	Label    string
	Attrs    map[string]any
	Created  time.Time
	Modified time.Time
}

// MemStore is an in-memory GraphStore with the same merge semantics as the
// database-backed store. It backs tests and local development.
type MemStore struct {
	mu    sync.Mutex
	next  int
	nodes map[string]*MemNode
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{nodes: map[string]*MemNode{}}
}

// MergeNode implements GraphStore.
func (s *MemStore) MergeNode(_ context.Context, parentID, name, label string, attrs map[string]any, ts time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.ParentID == parentID && n.Name == name && n.Label == label {
			for k, v := range attrs {
				n.Attrs[k] = v
			}
			n.Modified = ts
			return n.ID, nil
		}
	}

	s.next++
	n := &MemNode{
		ID:       strconv.Itoa(s.next),
		ParentID: parentID,
		Name:     name,
		Label:    label,
		Attrs:    map[string]any{},
		Created:  ts,
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	s.nodes[n.ID] = n
	return n.ID, nil
}

// Node returns the node with the given id, or nil.
func (s *MemStore) Node(id string) *MemNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// Find returns the first node matching name and label, or nil.
func (s *MemStore) Find(name, label string) *MemNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Name == name && n.Label == label {
			return n
		}
	}
	return nil
}

// Children returns the nodes whose parent is the given id.
func (s *MemStore) Children(parentID string) []*MemNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MemNode
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of stored nodes.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
