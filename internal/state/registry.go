package state

import (
	"strings"
	"sync"

	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/observer"
)

// ChangeEvent is the observer.StateChanged payload: the set of item names
// whose value changed since the last emitted event. A single payload can
// name several items when they change together inside one hold/release
// pair.
type ChangeEvent struct {
	Names []string
}

// Registry is SystemState: a case-insensitive map from lowercased path to
// Item, plus per-port and per-channel nested registries, plus the
// hold/release update coalescing machinery.
//
// Mutation is single-writer: only the control thread calls Set/Hold/
// Release. Concurrent readers (worker stages) only ever read a snapshot
// via Get, which takes a brief read lock — cheap enough to call between
// pipeline cycles, never mid-cycle.
type Registry struct {
	mu sync.RWMutex

	global map[string]*Item
	ports  map[string]map[string]*Item   // port label -> attr -> Item
	chans  map[string]map[string]*Item   // channel native name -> attr -> Item

	bus *observer.Bus

	holdDepth int
	pending   map[string]struct{} // item names changed during the current hold
}

func NewRegistry(bus *observer.Bus) *Registry {
	return &Registry{
		global:  make(map[string]*Item),
		ports:   make(map[string]map[string]*Item),
		chans:   make(map[string]map[string]*Item),
		bus:     bus,
		pending: make(map[string]struct{}),
	}
}

// RegisterGlobal adds an item to the global registry, keyed
// case-insensitively on its Name.
func (r *Registry) RegisterGlobal(it *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[strings.ToLower(it.Name)] = it
}

// RegisterPortItem adds an item under a port's sub-registry.
func (r *Registry) RegisterPortItem(portLabel string, it *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.ports[strings.ToLower(portLabel)]
	if !ok {
		m = make(map[string]*Item)
		r.ports[strings.ToLower(portLabel)] = m
	}
	m[strings.ToLower(it.Name)] = it
}

// RegisterChannelItem adds an item under a channel's sub-registry.
func (r *Registry) RegisterChannelItem(nativeName string, it *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.chans[strings.ToLower(nativeName)]
	if !ok {
		m = make(map[string]*Item)
		r.chans[strings.ToLower(nativeName)] = m
	}
	m[strings.ToLower(it.Name)] = it
}

// Locate resolves a dotted path against channel, then port, then global
// registries, in that order — the priority the command parser uses for
// resolution (filename items are matched earlier, by the caller, since
// they aren't dotted paths here).
func (r *Registry) Locate(path string) (*Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx := strings.Index(path, "."); idx >= 0 {
		owner := strings.ToLower(path[:idx])
		attr := strings.ToLower(path[idx+1:])
		if m, ok := r.chans[owner]; ok {
			if it, ok := m[attr]; ok {
				return it, true
			}
		}
		if m, ok := r.ports[owner]; ok {
			if it, ok := m[attr]; ok {
				return it, true
			}
		}
	}
	if it, ok := r.global[strings.ToLower(path)]; ok {
		return it, true
	}
	return nil, false
}

// Get returns the current string form of path, or ok=false if unknown.
func (r *Registry) Get(path string) (value string, ok bool) {
	it, found := r.Locate(path)
	if !found {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return it.String(), true
}

// Set applies value to the item at path. It never partially updates: on
// any error, the item is untouched.
func (r *Registry) Set(path, value string) error {
	it, ok := r.Locate(path)
	if !ok {
		return daqerr.ErrUnrecognizedParameter
	}
	return r.SetItem(it, value)
}

// SetItem applies value to a specific Item the caller already resolved
// (Set calls it after Locate).
func (r *Registry) SetItem(it *Item, value string) error {
	if restricted, reason := it.Restricted(); restricted {
		return &daqerr.RestrictedError{Path: it.Name, Reason: reason}
	}

	r.mu.Lock()
	if err := it.set(value); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if it.onChanged != nil {
		it.onChanged(it)
	}
	r.markChanged(it.Name)
	return nil
}

// SetFilenameSub sets a Filename composite's .path or .basefilename
// sub-key directly.
func (r *Registry) SetFilenameSub(it *Item, key, value string) error {
	if restricted, reason := it.Restricted(); restricted {
		return &daqerr.RestrictedError{Path: it.Name, Reason: reason}
	}
	r.mu.Lock()
	if err := it.setSub(key, value); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	if it.onChanged != nil {
		it.onChanged(it)
	}
	r.markChanged(it.Name)
	return nil
}

// markChanged records a changed item name and emits immediately unless a
// hold is active, in which case it accumulates until ReleaseUpdate.
func (r *Registry) markChanged(name string) {
	r.mu.Lock()
	holding := r.holdDepth > 0
	if holding {
		r.pending[name] = struct{}{}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.emit([]string{name})
}

func (r *Registry) emit(names []string) {
	if r.bus == nil || len(names) == 0 {
		return
	}
	r.bus.Publish(observer.Event{Kind: observer.StateChanged, Payload: ChangeEvent{Names: names}})
}

// HoldUpdate suppresses change events until a matching ReleaseUpdate.
// Holds nest: the event is suppressed until the outermost hold releases.
func (r *Registry) HoldUpdate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdDepth++
}

// ReleaseUpdate undoes one HoldUpdate. When the outermost hold releases,
// every item changed during the hold is emitted as a single ChangeEvent,
// so observers see one atomic transition.
func (r *Registry) ReleaseUpdate() {
	r.mu.Lock()
	r.holdDepth--
	if r.holdDepth < 0 {
		r.holdDepth = 0
	}
	var names []string
	if r.holdDepth == 0 && len(r.pending) > 0 {
		for n := range r.pending {
			names = append(names, n)
		}
		r.pending = make(map[string]struct{})
	}
	r.mu.Unlock()
	r.emit(names)
}

// ForceUpdate always emits a change event for the named items, bypassing
// hold coalescing.
func (r *Registry) ForceUpdate(names ...string) {
	r.emit(names)
}

// WithHold runs fn with updates held, then releases — the idiomatic way
// orchestrator transitions group several item changes into one event.
func (r *Registry) WithHold(fn func()) {
	r.HoldUpdate()
	defer r.ReleaseUpdate()
	fn()
}
