package bridge

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Token identifies one registration and is the handle for Unsubscribe.
type Token string

// Subscription is one (receiver, handler) registration.
type Subscription struct {
	Token      Token
	ReceiverID string
	Handler    string

	epoch uint64
}

// Delivery summarizes one Notify fan-out.
type Delivery struct {
	Attempted int
	Failed    int
}

// Registry keeps, per event kind, the ordered subscriber list and fans payloads out to a Sink.
//
// Registrations are never deduplicated: registering the same pair twice delivers twice.
// They accumulate for the life of the Registry unless removed with Unsubscribe, Reset or Expire.
type Registry struct {
	mu     sync.RWMutex
	lists  map[EventKind]*orderedmap.OrderedMap[Token, Subscription]
	epoch  uint64
	sink   Sink
	logger *logrus.Logger
}

// NewRegistry creates an empty registry delivering through sink.
func NewRegistry(sink Sink, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		lists:  make(map[EventKind]*orderedmap.OrderedMap[Token, Subscription], len(EventKinds())),
		sink:   sink,
		logger: logger,
	}
	for _, k := range EventKinds() {
		r.lists[k] = orderedmap.New[Token, Subscription]()
	}
	return r
}

// Register appends a subscription for kind and returns its token. It always succeeds.
func (r *Registry) Register(kind EventKind, receiverID, handler string) Token {
	sub := Subscription{
		Token:      Token(uuid.NewString()),
		ReceiverID: receiverID,
		Handler:    handler,
	}

	r.mu.Lock()
	sub.epoch = r.epoch
	r.list(kind).Set(sub.Token, sub)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"kind":     kind.String(),
		"receiver": receiverID,
		"handler":  handler,
		"token":    sub.Token,
	}).Debug("Registered subscriber")

	return sub.Token
}

// Unsubscribe removes the registration identified by token and reports whether it existed.
func (r *Registry) Unsubscribe(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range EventKinds() {
		if _, ok := r.list(k).Delete(token); ok {
			r.logger.WithFields(logrus.Fields{"kind": k.String(), "token": token}).Debug("Removed subscriber")
			return true
		}
	}
	return false
}

// Reset clears the given kinds, or every kind when none is given.
func (r *Registry) Reset(kinds ...EventKind) {
	if len(kinds) == 0 {
		kinds = EventKinds()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		r.lists[k] = orderedmap.New[Token, Subscription]()
	}
}

// Expire closes the current registration epoch. Subscriptions of the given kinds
// that were registered before the previous Expire call are removed; those registered
// since then survive until the next call. It returns the number removed.
func (r *Registry) Expire(kinds ...EventKind) int {
	if len(kinds) == 0 {
		kinds = EventKinds()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, k := range kinds {
		l := r.list(k)
		var stale []Token
		for pair := l.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value.epoch < r.epoch {
				stale = append(stale, pair.Key)
			}
		}
		for _, t := range stale {
			l.Delete(t)
		}
		removed += len(stale)
	}
	r.epoch++
	return removed
}

// Len returns the number of subscriptions for kind.
func (r *Registry) Len(kind EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(kind).Len()
}

// Subscriptions returns a snapshot of kind's subscriptions in delivery order.
func (r *Registry) Subscriptions(kind EventKind) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l := r.list(kind)
	subs := make([]Subscription, 0, l.Len())
	for pair := l.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, pair.Value)
	}
	return subs
}

// Notify delivers payload to every subscriber of kind, in registration order.
// The subscriber list is snapshotted first, so concurrent registrations do not affect
// this fan-out. A failing or panicking delivery is logged and the fan-out continues.
func (r *Registry) Notify(kind EventKind, payload string) Delivery {
	subs := r.Subscriptions(kind)
	d := Delivery{Attempted: len(subs)}

	for _, sub := range subs {
		if err := r.deliver(sub, payload); err != nil {
			d.Failed++
			r.logger.WithFields(logrus.Fields{
				"kind":     kind.String(),
				"receiver": sub.ReceiverID,
				"handler":  sub.Handler,
				"error":    err,
			}).Warn("Delivery to subscriber failed")
		}
	}
	return d
}

func (r *Registry) deliver(sub Subscription, payload string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debugf("sink panic stack:\n%s", debug.Stack())
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return r.sink.Send(sub.ReceiverID, sub.Handler, payload)
}

// list must be called with r.mu held.
func (r *Registry) list(kind EventKind) *orderedmap.OrderedMap[Token, Subscription] {
	l, ok := r.lists[kind]
	if !ok {
		panic(fmt.Sprintf("bridge: unknown event kind %d", int(kind)))
	}
	return l
}
