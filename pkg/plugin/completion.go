package plugin

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
)

// Completion signals that an asynchronous lifecycle operation has finished.
// It is the only value a lifecycle hook may return. A Completion settles
// exactly once, either resolved or rejected with an error.
//
// Always obtain one through NewCompletion, Completed, Failed or Go; the zero
// value never settles.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCompletion returns a pending completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Completed returns a completion that has already resolved.
func Completed() *Completion {
	c := NewCompletion()
	c.Resolve()
	return c
}

// Failed returns a completion that has already been rejected with err.
func Failed(err error) *Completion {
	c := NewCompletion()
	c.Reject(err)
	return c
}

// Go runs fn on its own goroutine and settles the returned completion with
// its result. A panic inside fn rejects the completion with a *PanicError.
func Go(fn func() error) *Completion {
	c := NewCompletion()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.Reject(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		if err := fn(); err != nil {
			c.Reject(err)
			return
		}
		c.Resolve()
	}()
	return c
}

// Resolve settles the completion successfully. Later calls are ignored.
func (c *Completion) Resolve() { c.settle(nil) }

// Reject settles the completion with err. Later calls are ignored.
func (c *Completion) Reject(err error) {
	if err == nil {
		err = errors.New("completion rejected")
	}
	c.settle(err)
}

func (c *Completion) settle(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the completion has settled.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err reports the rejection cause. It is nil while pending or when resolved.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Settled reports whether the completion has finished.
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion settles or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// All completes once every given completion has settled. The result is
// rejected with the joined errors of the failed ones; nil entries are skipped.
func All(cs ...*Completion) *Completion {
	out := NewCompletion()
	go func() {
		var errs []error
		for _, c := range cs {
			if c == nil {
				continue
			}
			<-c.done
			if c.err != nil {
				errs = append(errs, c.err)
			}
		}
		if len(errs) > 0 {
			out.Reject(errors.Join(errs...))
			return
		}
		out.Resolve()
	}()
	return out
}

// settle completes once every given completion has settled and never fails.
// Individual failures are reported where they happen, not here.
func settle(cs []*Completion) *Completion {
	out := NewCompletion()
	go func() {
		for _, c := range cs {
			if c != nil {
				<-c.done
			}
		}
		out.Resolve()
	}()
	return out
}
