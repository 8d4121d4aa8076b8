// internal/hub/registry.go
// Provides the Registry of logged-in identities and the broadcast fan-out.
package hub

import (
	"sync"

	"github.com/erilali/place/internal/message"
	"github.com/pkg/errors"
)

// ErrDuplicateIdentity is returned when an identity is already logged in.
var ErrDuplicateIdentity = errors.New("identity already logged in")

// Channel delivers messages to one logged-in client.
//
// Deliver must not block: the registry calls it while holding its lock.
// A Deliver error means the client cannot keep up or is gone.
type Channel interface {
	Deliver(m message.Message) error
	Close() error
}

// DropFunc is told about every member removed because a delivery failed.
type DropFunc func(identity string, err error)

// Registry maps identities to their outbound channels. Register, Unregister,
// Broadcast and Commit share a single lock, so they are linearizable with
// respect to each other: a member whose registration completed before a
// broadcast started receives that broadcast.
type Registry struct {
	mu      sync.Mutex
	order   []string
	members map[string]Channel
	onDrop  DropFunc
}

// NewRegistry creates an empty Registry. onDrop may be nil.
func NewRegistry(onDrop DropFunc) *Registry {
	return &Registry{
		members: make(map[string]Channel),
		onDrop:  onDrop,
	}
}

// Register adds identity with channel ch. It fails with ErrDuplicateIdentity
// if identity is present. Messages returned by greet are delivered to ch
// inside the same critical section, ahead of any broadcast ch can observe.
func (r *Registry) Register(identity string, ch Channel, greet func() []message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[identity]; ok {
		return ErrDuplicateIdentity
	}
	if greet != nil {
		for _, m := range greet() {
			if err := ch.Deliver(m); err != nil {
				return errors.Wrap(err, "deliver greeting failed")
			}
		}
	}
	r.members[identity] = ch
	r.order = append(r.order, identity)
	return nil
}

// Unregister removes identity if it is still bound to ch. A nil ch removes
// identity unconditionally. Removing an absent identity is a no-op.
func (r *Registry) Unregister(identity string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.members[identity]
	if !ok || (ch != nil && cur != ch) {
		return false
	}
	r.removeLocked(identity)
	return true
}

// Broadcast delivers m to every member in registration order and returns how
// many deliveries succeeded. Members whose delivery fails are removed and
// closed once the fan-out is complete.
func (r *Registry) Broadcast(m message.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanOutLocked(m)
}

// Commit runs apply and, if it succeeds, broadcasts m, all under the registry
// lock. State changes made through Commit reach every member in the order
// they were applied.
func (r *Registry) Commit(apply func() error, m message.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := apply(); err != nil {
		return 0, err
	}
	return r.fanOutLocked(m), nil
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Identities returns the members in registration order.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Contains reports whether identity is registered.
func (r *Registry) Contains(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[identity]
	return ok
}

// CloseAll removes and closes every member.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		_ = r.members[id].Close()
	}
	r.order = nil
	r.members = make(map[string]Channel)
}

func (r *Registry) fanOutLocked(m message.Message) int {
	type failure struct {
		identity string
		err      error
	}
	var failed []failure
	delivered := 0
	for _, id := range r.order {
		if err := r.members[id].Deliver(m); err != nil {
			failed = append(failed, failure{id, err})
			continue
		}
		delivered++
	}
	for _, f := range failed {
		ch := r.members[f.identity]
		r.removeLocked(f.identity)
		_ = ch.Close()
		if r.onDrop != nil {
			r.onDrop(f.identity, f.err)
		}
	}
	return delivered
}

func (r *Registry) removeLocked(identity string) {
	delete(r.members, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
