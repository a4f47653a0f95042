// Package registry holds the table of registered chat sessions. A single
// mutex guards membership changes, recipient snapshots and the fan-out scope
// used by the broadcast engine, so that no reader ever observes a partially
// registered or partially removed session.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/cyberinferno/chatrelay/logger"
)

// ErrCapacityExceeded is returned by Register when the registry already
// holds the configured maximum number of sessions.
var ErrCapacityExceeded = errors.New("registry: capacity exceeded")

// Member is what the registry stores for every registered session.
type Member interface {
	// Name returns the display name chosen at registration.
	Name() string

	// Deliver queues a formatted line for the member. It is called while the
	// registry lock is held and must not block.
	//
	// Parameters:
	//   - line: The bytes to send, including the trailing newline
	//
	// Returns:
	//   - An error if the line could not be queued
	Deliver(line []byte) error
}

// Entry pairs a registered member with its id.
type Entry struct {
	ID     uint32
	Member Member
}

// Registry is the process-wide set of active sessions. The zero value is not
// usable; create one with New.
type Registry struct {
	mu       sync.Mutex
	members  map[uint32]Member
	capacity int
	ids      *idSource
	log      logger.Logger
}

// New creates an empty Registry that accepts at most capacity sessions.
//
// Parameters:
//   - capacity: Maximum number of concurrently registered sessions (values
//     below 1 are treated as 1)
//   - log: Logger for membership changes
//
// Returns:
//   - A new Registry
func New(capacity int, log logger.Logger) *Registry {
	if capacity < 1 {
		capacity = 1
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Registry{
		members:  make(map[uint32]Member, capacity),
		capacity: capacity,
		ids:      newIDSource(0),
		log:      log.With(logger.Field{Key: "component", Value: "registry"}),
	}
}

// Register assigns a fresh id to m and inserts it.
//
// Parameters:
//   - m: The member to insert
//
// Returns:
//   - The new id
//   - ErrCapacityExceeded if the registry is full; m is not inserted
func (r *Registry) Register(m Member) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= r.capacity {
		r.log.Warn("registration rejected",
			logger.Field{Key: "name", Value: m.Name()},
			logger.Field{Key: "active", Value: len(r.members)},
			logger.Field{Key: "capacity", Value: r.capacity},
		)
		return 0, ErrCapacityExceeded
	}

	id := r.ids.next()
	r.members[id] = m
	r.log.Debug("member registered",
		logger.Field{Key: "id", Value: id},
		logger.Field{Key: "name", Value: m.Name()},
		logger.Field{Key: "active", Value: len(r.members)},
	)

	return id, nil
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
//
// Returns:
//   - true if an entry was removed
func (r *Registry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false
	}

	delete(r.members, id)
	r.log.Debug("member removed",
		logger.Field{Key: "id", Value: id},
		logger.Field{Key: "active", Value: len(r.members)},
	)

	return true
}

// SnapshotRecipients returns every registered member except excludeID,
// ordered by id, as of a single point in time.
func (r *Registry) SnapshotRecipients(excludeID uint32) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot(excludeID)
}

// Fanout runs fn with the recipient snapshot while still holding the
// registry lock. Registrations and removals wait until fn returns, which is
// what gives all broadcasts a single total order. fn must not block.
//
// Parameters:
//   - excludeID: Id left out of the snapshot (0 excludes nobody)
//   - fn: Called exactly once with the recipients ordered by id
func (r *Registry) Fanout(excludeID uint32, fn func(recipients []Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r.snapshot(excludeID))
}

// Count returns the number of registered members.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.members)
}

// Capacity returns the configured maximum.
func (r *Registry) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.capacity
}

// SetCapacity changes the maximum number of members. Lowering it below the
// current count never evicts anyone; it only blocks new registrations until
// enough members leave.
func (r *Registry) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity != capacity {
		r.log.Info("capacity changed",
			logger.Field{Key: "from", Value: r.capacity},
			logger.Field{Key: "to", Value: capacity},
		)
	}

	r.capacity = capacity
}

// Lookup returns the member registered under id.
func (r *Registry) Lookup(id uint32) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	return m, ok
}

// snapshot builds the ordered recipient list; caller must hold r.mu.
func (r *Registry) snapshot(excludeID uint32) []Entry {
	out := make([]Entry, 0, len(r.members))
	for id, m := range r.members {
		if id == excludeID {
			continue
		}
		out = append(out, Entry{ID: id, Member: m})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
