// Package testutil provides deterministic in-memory collaborators for tests.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Call records one collaborator invocation.
type Call struct {
	Method       string
	Type         string
	ID           string
	Relationship string
}

// MemoryRepository is an in-memory transactional repository.
//
// It records every call, assigns ids mem-1, mem-2, ... and restores its
// previous state when a transaction fails. FailOn, when set, is consulted
// before each call; a non-nil error makes that call fail.
//
// Thread-safety: MemoryRepository is safe for concurrent use via internal mutex.
type MemoryRepository struct {
	mu        sync.Mutex
	resources map[string]map[string]*ir.Resource
	calls     []Call
	seq       int

	// FailOn injects failures.
	FailOn func(Call) error

	Commits   int
	Rollbacks int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{resources: make(map[string]map[string]*ir.Resource)}
}

// RunInTransaction snapshots state, runs work and restores the snapshot
// when work fails.
func (m *MemoryRepository) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error {
	m.mu.Lock()
	snapshot := m.cloneResources()
	seq := m.seq
	m.mu.Unlock()

	if err := work(ctx); err != nil {
		m.mu.Lock()
		m.resources = snapshot
		m.seq = seq
		m.Rollbacks++
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
	return nil
}

// Put stores a resource directly, bypassing call recording.
func (m *MemoryRepository) Put(res ir.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(cloneResource(&res))
}

// Get returns a copy of a stored resource.
func (m *MemoryRepository) Get(typ, id string) (*ir.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.resources[typ][id]
	if !ok {
		return nil, false
	}
	return cloneResource(res), true
}

// Len returns the number of stored resources of a type.
func (m *MemoryRepository) Len(typ string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources[typ])
}

// Calls returns the recorded calls in order.
func (m *MemoryRepository) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Create stores a new resource.
func (m *MemoryRepository) Create(_ context.Context, res ir.Resource) (*ir.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Create", Type: res.Type, ID: res.ID}); err != nil {
		return nil, err
	}

	stored := cloneResource(&res)
	if stored.ID == "" {
		m.seq++
		stored.ID = fmt.Sprintf("mem-%d", m.seq)
	}
	if _, exists := m.resources[stored.Type][stored.ID]; exists {
		return nil, fmt.Errorf("%w: %s %q", ir.ErrConflict, stored.Type, stored.ID)
	}
	if err := m.checkTargets(stored.Relationships); err != nil {
		return nil, err
	}
	m.put(stored)
	return cloneResource(stored), nil
}

// Update merges attributes and replaces the given relationships.
func (m *MemoryRepository) Update(_ context.Context, res ir.Resource) (*ir.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Update", Type: res.Type, ID: res.ID}); err != nil {
		return nil, err
	}

	current, ok := m.resources[res.Type][res.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ir.ErrNotFound, res.Type, res.ID)
	}
	if err := m.checkTargets(res.Relationships); err != nil {
		return nil, err
	}
	for k, v := range res.Attributes {
		current.Attributes[k] = v
	}
	for k, v := range res.Relationships {
		current.Relationships[k] = v
	}
	return cloneResource(current), nil
}

// Delete removes a resource.
func (m *MemoryRepository) Delete(_ context.Context, typ, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Delete", Type: typ, ID: id}); err != nil {
		return err
	}
	if _, ok := m.resources[typ][id]; !ok {
		return fmt.Errorf("%w: %s %q", ir.ErrNotFound, typ, id)
	}
	delete(m.resources[typ], id)
	return nil
}

// AddToRelationship appends members not yet linked.
func (m *MemoryRepository) AddToRelationship(_ context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.relationshipOwner(Call{Method: "AddToRelationship", Type: typ, ID: id, Relationship: name}, ids)
	if err != nil {
		return err
	}
	linkage := res.Relationships[name]
	linkage.Present, linkage.Many = true, true
	for _, item := range ids {
		if !slices.ContainsFunc(linkage.Items, sameIdentifier(item)) {
			linkage.Items = append(linkage.Items, item)
		}
	}
	res.Relationships[name] = linkage
	return nil
}

// ReplaceRelationship sets the full linkage.
func (m *MemoryRepository) ReplaceRelationship(_ context.Context, typ, id, name string, linkage ir.Linkage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.relationshipOwner(Call{Method: "ReplaceRelationship", Type: typ, ID: id, Relationship: name}, linkage.Identifiers())
	if err != nil {
		return err
	}
	res.Relationships[name] = linkage
	return nil
}

// RemoveFromRelationship detaches members.
func (m *MemoryRepository) RemoveFromRelationship(_ context.Context, typ, id, name string, ids []ir.ResourceIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.relationshipOwner(Call{Method: "RemoveFromRelationship", Type: typ, ID: id, Relationship: name}, nil)
	if err != nil {
		return err
	}
	linkage := res.Relationships[name]
	for _, item := range ids {
		linkage.Items = slices.DeleteFunc(linkage.Items, sameIdentifier(item))
	}
	res.Relationships[name] = linkage
	return nil
}

func (m *MemoryRepository) record(c Call) error {
	m.calls = append(m.calls, c)
	if m.FailOn != nil {
		return m.FailOn(c)
	}
	return nil
}

func (m *MemoryRepository) relationshipOwner(c Call, targets []ir.ResourceIdentifier) (*ir.Resource, error) {
	if err := m.record(c); err != nil {
		return nil, err
	}
	res, ok := m.resources[c.Type][c.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ir.ErrNotFound, c.Type, c.ID)
	}
	for _, t := range targets {
		if _, ok := m.resources[t.Type][t.ID]; !ok {
			return nil, fmt.Errorf("%w: related %s %q", ir.ErrNotFound, t.Type, t.ID)
		}
	}
	return res, nil
}

func (m *MemoryRepository) checkTargets(rels map[string]ir.Linkage) error {
	for _, linkage := range rels {
		for _, t := range linkage.Identifiers() {
			if _, ok := m.resources[t.Type][t.ID]; !ok {
				return fmt.Errorf("%w: related %s %q", ir.ErrNotFound, t.Type, t.ID)
			}
		}
	}
	return nil
}

func (m *MemoryRepository) put(res *ir.Resource) {
	if m.resources[res.Type] == nil {
		m.resources[res.Type] = make(map[string]*ir.Resource)
	}
	m.resources[res.Type][res.ID] = res
}

func (m *MemoryRepository) cloneResources() map[string]map[string]*ir.Resource {
	out := make(map[string]map[string]*ir.Resource, len(m.resources))
	for typ, byID := range m.resources {
		out[typ] = make(map[string]*ir.Resource, len(byID))
		for id, res := range byID {
			out[typ][id] = cloneResource(res)
		}
	}
	return out
}

func cloneResource(res *ir.Resource) *ir.Resource {
	out := &ir.Resource{
		Type:          res.Type,
		ID:            res.ID,
		Attributes:    maps.Clone(res.Attributes),
		Relationships: make(map[string]ir.Linkage, len(res.Relationships)),
	}
	if out.Attributes == nil {
		out.Attributes = map[string]any{}
	}
	for name, l := range res.Relationships {
		l.Items = slices.Clone(l.Items)
		if l.One != nil {
			one := *l.One
			l.One = &one
		}
		out.Relationships[name] = l
	}
	return out
}

func sameIdentifier(a ir.ResourceIdentifier) func(ir.ResourceIdentifier) bool {
	return func(b ir.ResourceIdentifier) bool {
		return a.Type == b.Type && a.ID == b.ID
	}
}

// FailWith returns a FailOn hook failing calls to method with err.
func FailWith(method string, err error) func(Call) error {
	return func(c Call) error {
		if c.Method == method {
			return err
		}
		return nil
	}
}

// Types returns the types that currently hold resources, sorted.
func (m *MemoryRepository) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.resources))
}
