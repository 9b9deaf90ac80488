package artifact

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// HiddenPrefix marks names that Names leaves out.
const HiddenPrefix = "__"

// EventType classifies a registry mutation.
type EventType string

const (
	EventAdded    EventType = "added"
	EventReplaced EventType = "replaced"
	EventRemoved  EventType = "removed"
	EventRenamed  EventType = "renamed"
	EventCleared  EventType = "cleared"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Type    EventType
	Name    string
	OldName string // set for EventRenamed
	Kind    string
}

// Registry maps names to artifact handles. It is safe for concurrent use:
// mutations are serialized and lookups observe either the state before or
// after a mutation, never a partial one.
//
// Ownership: Add and AddOrReplace take over the reference the caller passes
// in. Retrieve hands out a fresh reference that the caller must Release.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Handle

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	log *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for ignored removals and notifications.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Handle),
		subs:    make(map[int]func(Event)),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
// Mutations
// ============================================================================

// Add stores h under name. It fails with ErrDuplicate when the name is taken,
// in which case the caller keeps its reference.
func (r *Registry) Add(name string, h *Handle) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("artifact: %q: nil handle: %w", name, types.ErrValidation)
	}

	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("artifact: %q: %w", name, types.ErrDuplicate)
	}
	r.entries[name] = h
	r.mu.Unlock()

	r.notify(Event{Type: EventAdded, Name: name, Kind: h.Kind()})
	return nil
}

// AddOrReplace stores h under name, releasing the registry's reference to any
// handle previously stored there.
func (r *Registry) AddOrReplace(name string, h *Handle) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("artifact: %q: nil handle: %w", name, types.ErrValidation)
	}

	r.mu.Lock()
	old, existed := r.entries[name]
	r.entries[name] = h
	r.mu.Unlock()

	if existed {
		old.Release()
		r.notify(Event{Type: EventReplaced, Name: name, Kind: h.Kind()})
		return nil
	}
	r.notify(Event{Type: EventAdded, Name: name, Kind: h.Kind()})
	return nil
}

// Remove drops name and releases the registry's reference. Removing a name
// that is not present is logged and otherwise ignored.
func (r *Registry) Remove(name string) {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	h, exists := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if !exists {
		r.log.Warn("remove of unknown artifact ignored", "artifact", name)
		return
	}
	h.Release()
	r.notify(Event{Type: EventRemoved, Name: name, Kind: h.Kind()})
}

// Rename moves the handle stored under oldName to newName.
func (r *Registry) Rename(oldName, newName string) error {
	oldName = strings.TrimSpace(oldName)
	newName, err := checkName(newName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	h, exists := r.entries[oldName]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("artifact: %q: %w", oldName, types.ErrNotFound)
	}
	if oldName == newName {
		r.mu.Unlock()
		return nil
	}
	if _, taken := r.entries[newName]; taken {
		r.mu.Unlock()
		return fmt.Errorf("artifact: %q: %w", newName, types.ErrDuplicate)
	}
	delete(r.entries, oldName)
	r.entries[newName] = h
	r.mu.Unlock()

	r.notify(Event{Type: EventRenamed, Name: newName, OldName: oldName, Kind: h.Kind()})
	return nil
}

// Clear removes every entry and releases their references.
func (r *Registry) Clear() {
	r.mu.Lock()
	old := r.entries
	r.entries = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range old {
		h.Release()
	}
	r.notify(Event{Type: EventCleared})
}

// ============================================================================
// Lookups
// ============================================================================

// Retrieve returns an acquired handle for name. The caller must Release it.
func (r *Registry) Retrieve(name string) (*Handle, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("artifact: %q: %w", name, types.ErrNotFound)
	}
	return h.Acquire(), nil
}

// RetrieveKind is Retrieve with a kind check. An empty kind matches anything.
func (r *Registry) RetrieveKind(name, kind string) (*Handle, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("artifact: %q: %w", name, types.ErrNotFound)
	}
	if kind != "" && h.Kind() != kind {
		return nil, fmt.Errorf("artifact: %q is a %s, not a %s: %w", name, h.Kind(), kind, types.ErrTypeMismatch)
	}
	return h.Acquire(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[strings.TrimSpace(name)]
	return exists
}

// Len returns the number of entries, hidden ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the sorted visible names.
func (r *Registry) Names() []string {
	return r.names(false)
}

// NamesWithHidden returns every name, sorted.
func (r *Registry) NamesWithHidden() []string {
	return r.names(true)
}

func (r *Registry) names(hidden bool) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		if !hidden && strings.HasPrefix(name, HiddenPrefix) {
			continue
		}
		out = append(out, name)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Stats counts entries by kind.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int)
	for _, h := range r.entries {
		stats[h.Kind()]++
	}
	return stats
}

// ============================================================================
// Notifications
// ============================================================================

// Subscribe registers fn for every subsequent event and returns a function
// that removes the subscription. Events are delivered on the mutating
// goroutine after the registry lock has been released.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) notify(ev Event) {
	r.subMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subMu.Unlock()

	r.log.Debug("artifact registry changed", "event", string(ev.Type), "artifact", ev.Name)
	for _, fn := range fns {
		fn(ev)
	}
}

func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("artifact: empty name: %w", types.ErrValidation)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("artifact: %q contains whitespace: %w", name, types.ErrValidation)
	}
	return name, nil
}
