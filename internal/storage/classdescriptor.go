package storage

import (
	"fmt"
	"sync"

	"github.com/gridcask/classdb/internal/txn"
)

// ClassRegistry is the in-memory system catalog of compiled classes: it
// satisfies txn.ModelDescriptor for id-to-descriptor lookups and doubles
// as the factory for the txn.ClassNode hierarchy the class-hierarchy
// facade walks.
type ClassRegistry struct {
	mu      sync.RWMutex
	byIndex map[int]txn.ClassDescriptor
	byID    map[uint16]txn.ClassDescriptor
	nodes   map[int]*txn.ClassNode
}

// NewClassRegistry allocates an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		byIndex: make(map[int]txn.ClassDescriptor),
		byID:    make(map[uint16]txn.ClassDescriptor),
		nodes:   make(map[int]*txn.ClassNode),
	}
}

// Register adds or replaces a compiled class's descriptor, also creating
// the hierarchy node callers will later wire descendants onto via
// AddDescendant. The class id packed into object ids (ids.go's MakeID) is
// desc.Index itself, narrowed to uint16.
func (r *ClassRegistry) Register(desc txn.ClassDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("storage: class %d: name cannot be empty", desc.Index)
	}
	if desc.Index < 0 || desc.Index > 0x1FFF {
		return fmt.Errorf("storage: class index %d does not fit the 13-bit class-id space", desc.Index)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byIndex[desc.Index] = desc
	r.byID[uint16(desc.Index)] = desc
	r.nodes[desc.Index] = &txn.ClassNode{
		Index:         desc.Index,
		Name:          desc.Name,
		HasStorage:    !desc.IsAbstract,
		ScanInherited: desc.ScanInherited,
	}
	return nil
}

// AddDescendant wires childIndex as a direct descendant of parentIndex's
// hierarchy node. Both classes must already be registered.
func (r *ClassRegistry) AddDescendant(parentIndex, childIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.nodes[parentIndex]
	if !ok {
		return fmt.Errorf("storage: unknown parent class %d", parentIndex)
	}
	child, ok := r.nodes[childIndex]
	if !ok {
		return fmt.Errorf("storage: unknown child class %d", childIndex)
	}
	parent.Descendants = append(parent.Descendants, child)
	return nil
}

// ClassByID implements txn.ModelDescriptor.
func (r *ClassRegistry) ClassByID(id uint16) (txn.ClassDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ClassByIndex implements txn.ModelDescriptor.
func (r *ClassRegistry) ClassByIndex(index int) (txn.ClassDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byIndex[index]
	return d, ok
}

// Node returns the hierarchy node for index, for callers driving
// TakeReadLock/Scan over the class tree.
func (r *ClassRegistry) Node(index int) (*txn.ClassNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[index]
	return n, ok
}

// AllClasses returns every registered descriptor, in no particular order.
func (r *ClassRegistry) AllClasses() []txn.ClassDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]txn.ClassDescriptor, 0, len(r.byIndex))
	for _, d := range r.byIndex {
		out = append(out, d)
	}
	return out
}
