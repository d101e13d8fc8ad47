// Package vars implements the process-wide table of named, capacity-bounded
// ordered sets shared across monitor evaluations. Each variable behaves as
// an insertion-ordered set: pushing an existing value refreshes its position
// to most-recent, and overflow evicts from the oldest end.
package vars

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultCapacity is used when a variable declaration omits `length`.
const DefaultCapacity = 1024

// Def declares a variable before the store is built.
type Def struct {
	// Name is the variable's unique name.
	Name string
	// Capacity is the maximum number of retained values.
	Capacity int
	// Persistent marks the variable for persistence across restarts.
	Persistent bool
}

// Persistence is the external storage contract for persistent variables.
// Load is called once at startup, Save after every mutation and on Close.
type Persistence interface {
	// Load returns the stored values for a variable, oldest first.
	// A variable that has never been saved returns an empty slice.
	Load(name string) ([]string, error)
	// Save replaces the stored values for a variable, oldest first.
	Save(name string, values []string) error
}

// variable is a single bounded ordered set guarded by its own mutex, so
// pushes to different variables never contend.
type variable struct {
	mu         sync.Mutex
	capacity   int
	persistent bool
	order      []string
	index      map[string]struct{}
}

// Store is the process-wide variable table. The table itself is immutable
// after New; only the per-variable state mutates.
type Store struct {
	vars    map[string]*variable
	persist Persistence
	log     zerolog.Logger
}

// New builds a store from the declared variables, loading persistent ones
// from the persistence backend. A load failure is reported through the
// returned error slice but does not abort construction: the affected
// variable starts empty and the agent keeps running.
func New(defs []Def, persist Persistence, log zerolog.Logger) (*Store, []error) {
	s := &Store{
		vars:    make(map[string]*variable, len(defs)),
		persist: persist,
		log:     log,
	}

	var loadErrs []error
	for _, def := range defs {
		capacity := def.Capacity
		if capacity <= 0 {
			capacity = DefaultCapacity
		}
		v := &variable{
			capacity: capacity,
			index:    make(map[string]struct{}),
		}
		if def.Persistent {
			if persist == nil {
				loadErrs = append(loadErrs, fmt.Errorf("variable %q: persistent but no persistence backend configured", def.Name))
			} else {
				values, err := persist.Load(def.Name)
				if err != nil {
					loadErrs = append(loadErrs, fmt.Errorf("variable %q: load: %w", def.Name, err))
					log.Error().Err(err).Str("variable", def.Name).Msg("failed to load persistent variable, starting empty")
				} else {
					for _, val := range values {
						v.pushLocked(val)
					}
				}
				v.persistent = true
			}
		}
		s.vars[def.Name] = v
	}

	return s, loadErrs
}

// Resolve reports whether a variable name is declared. Config validation
// uses this so unknown references fail at load time, not mid-evaluation.
func (s *Store) Resolve(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Names returns the declared variable names, unordered.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	return names
}

// Contains reports whether value is currently retained in the named
// variable. The name must have been validated via Resolve at load time;
// an unknown name here returns false.
func (s *Store) Contains(name, value string) bool {
	v, ok := s.vars[name]
	if !ok {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, present := v.index[value]
	return present
}

// Push inserts value at the most-recent end of the named variable. A value
// already present is moved to the most-recent end rather than duplicated,
// so recently seen values are not the next eviction candidates. When the
// set exceeds its capacity the oldest values are evicted.
func (s *Store) Push(name, value string) {
	v, ok := s.vars[name]
	if !ok {
		return
	}

	v.mu.Lock()
	v.pushLocked(value)
	persistent := v.persistent
	var snapshot []string
	if persistent {
		snapshot = append([]string(nil), v.order...)
	}
	v.mu.Unlock()

	if persistent {
		if err := s.persist.Save(name, snapshot); err != nil {
			s.log.Error().Err(err).Str("variable", name).Msg("failed to persist variable")
		}
	}
}

// Snapshot returns the retained values of the named variable, oldest first.
func (s *Store) Snapshot(name string) []string {
	v, ok := s.vars[name]
	if !ok {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]string(nil), v.order...)
}

// Len returns the current number of retained values.
func (s *Store) Len(name string) int {
	v, ok := s.vars[name]
	if !ok {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.order)
}

// Close saves all persistent variables. Best effort: the first error is
// returned but every variable is attempted.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}

	var firstErr error
	for name, v := range s.vars {
		if !v.persistent {
			continue
		}
		v.mu.Lock()
		snapshot := append([]string(nil), v.order...)
		v.mu.Unlock()
		if err := s.persist.Save(name, snapshot); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save variable %q: %w", name, err)
		}
	}
	return firstErr
}

// pushLocked inserts value, refreshing its position if already present and
// evicting from the front past capacity. Caller holds v.mu.
func (v *variable) pushLocked(value string) {
	if _, present := v.index[value]; present {
		for i, existing := range v.order {
			if existing == value {
				v.order = append(v.order[:i], v.order[i+1:]...)
				break
			}
		}
	} else {
		v.index[value] = struct{}{}
	}
	v.order = append(v.order, value)

	for len(v.order) > v.capacity {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.index, oldest)
	}
}
