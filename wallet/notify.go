package wallet

import (
	"errors"

	"github.com/google/uuid"
)

// ErrUnknownSubscriber is returned by Unsubscribe for a handle that is not
// (or is no longer) registered. Non-fatal: callers may safely ignore it,
// matching the spec's "double-unsubscribe is an observable error but
// non-fatal" rule (§4.1).
var ErrUnknownSubscriber = errors.New("wallet: unknown subscriber handle")

// Subscribe registers cb to be invoked once per dispatch cycle in which the
// container's notify flag was set, and returns a handle identifying the
// registration. Go cannot compare function values, so (unlike the source
// this engine is modeled on) subscriber identity is this generated handle,
// not the callback itself (§10.2).
func (c *Container) Subscribe(cb SubscriberFunc) uuid.UUID {
	return c.subscribeWithCompletion(cb, nil)
}

// SubscribeWithCompletion is Subscribe plus a channel that receives cb's
// return value (nil on success) once the dispatcher has run it.
func (c *Container) SubscribeWithCompletion(cb SubscriberFunc, completion chan<- error) uuid.UUID {
	return c.subscribeWithCompletion(cb, completion)
}

func (c *Container) subscribeWithCompletion(cb SubscriberFunc, completion chan<- error) uuid.UUID {
	id := uuid.New()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[id] = subscriber{cb: cb, completion: completion}
	return id
}

// Unsubscribe removes a subscriber registration. Unsubscribing an unknown
// or already-removed handle returns ErrUnknownSubscriber but has no other
// effect.
func (c *Container) Unsubscribe(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[id]; !ok {
		return ErrUnknownSubscriber
	}
	delete(c.subscribers, id)
	return nil
}

func (c *Container) setNotify(v bool) {
	c.mu.Lock()
	c.notify = v
	c.mu.Unlock()
}

// runNotified wraps a single public entry point's work (§4.5): on
// resolution or failure, if notify was raised during fn, the flag is
// cleared and every currently-registered subscriber is fanned out to
// exactly once. Subscribers that register mid-dispatch are deferred to the
// next cycle because the fan-out snapshot is taken before any callback
// runs.
func (c *Container) runNotified(fn func() error) error {
	err := fn()

	c.mu.Lock()
	if !c.notify {
		c.mu.Unlock()
		return err
	}
	c.notify = false
	snapshot := make([]subscriber, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		snapshot = append(snapshot, sub)
	}
	c.mu.Unlock()

	c.dispatch(snapshot)
	return err
}

func (c *Container) dispatch(subs []subscriber) {
	for _, sub := range subs {
		cbErr := c.invokeSubscriber(sub)
		if sub.completion != nil {
			sub.completion <- cbErr
		} else if cbErr != nil {
			c.log.WithError(cbErr).Warn("subscriber callback failed")
		}
	}
}

// invokeSubscriber runs a single callback, converting a panic into an error
// so one broken subscriber cannot take down the dispatch loop or the
// caller's goroutine (callbacks without a completion handle that panic are
// logged, not propagated — §4.5).
func (c *Container) invokeSubscriber(sub subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("wallet: subscriber callback panicked")
		}
	}()
	return sub.cb(c)
}
