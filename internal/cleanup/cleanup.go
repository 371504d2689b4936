// Package cleanup releases the resources a run acquires, newest first.
//
// Each acquisition registers its release right away:
//
//	stack := cleanup.New()
//	defer stack.Run(ctx)
//
//	l, err := lock.Acquire(path)
//	if err != nil {
//		return err
//	}
//	stack.Push("release lock", l.Release)
//
// Run executes every registered action once, even if earlier ones fail,
// so a cancelled or failed run still lets go of what it held.
package cleanup

import (
	"context"
	"sync"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
)

type action struct {
	name string
	fn   func() error
}

// Stack is a LIFO list of release actions. The zero value is ready to use.
type Stack struct {
	mu      sync.Mutex
	actions []action
	done    bool
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Push registers fn under name. Pushing onto a Stack that has already run
// executes fn immediately.
func (s *Stack) Push(name string, fn func() error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		if err := fn(); err != nil {
			logging.Default().Warn("cleanup failed", "action", name, "error", err)
		}
		return
	}
	s.actions = append(s.actions, action{name: name, fn: fn})
	s.mu.Unlock()
}

// Len returns the number of pending actions.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Run executes the pending actions in reverse order of registration and
// returns their errors joined. Later calls do nothing.
func (s *Stack) Run(ctx context.Context) error {
	s.mu.Lock()
	actions := s.actions
	s.actions = nil
	s.done = true
	s.mu.Unlock()

	log := logging.FromContext(ctx)
	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		log.Debug("cleanup", "action", a.name)
		if err := a.fn(); err != nil {
			log.Warn("cleanup failed", "action", a.name, "error", err)
			errs = append(errs, errors.Wrap(err, a.name))
		}
	}
	return errors.Join(errs...)
}
