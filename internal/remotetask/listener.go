package remotetask

import (
	"runtime/debug"
	"sync"

	"github.com/taskctl/remotetask/internal/logger"
)

// StateChangeListener is notified on every TaskStatus transition.
// Listeners never execute under the handle's critical section.
type StateChangeListener func(status TaskStatus)

// listenerSet holds listeners under its own lock so a listener can be
// added during notification without deadlocking against the handle's
// critical section.
type listenerSet struct {
	mu        sync.Mutex
	listeners []StateChangeListener
}

func (s *listenerSet) add(l StateChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *listenerSet) snapshot() []StateChangeListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StateChangeListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// notify dispatches status to every listener, recovering from any panic a
// listener raises so one bad callback can never bring down a fetch loop.
func (s *listenerSet) notify(status TaskStatus) {
	for _, l := range s.snapshot() {
		dispatchListener(l, status)
	}
}

func dispatchListener(l StateChangeListener, status TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task_id", status.TaskId.String()).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("state change listener panicked")
		}
	}()
	l(status)
}

// MismatchListener is notified when applyStatus rejects a reply as an
// instance/version mismatch, immediately before the handle fails with
// REMOTE_TASK_MISMATCH.
type MismatchListener func(taskId TaskId, expectedInstanceId, observedInstanceId TaskInstanceId)

// mismatchListenerSet mirrors listenerSet's locking discipline for the
// narrower mismatch-notification case.
type mismatchListenerSet struct {
	mu        sync.Mutex
	listeners []MismatchListener
}

func (s *mismatchListenerSet) add(l MismatchListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *mismatchListenerSet) notify(taskId TaskId, expectedInstanceId, observedInstanceId TaskInstanceId) {
	s.mu.Lock()
	snapshot := make([]MismatchListener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		dispatchMismatchListener(l, taskId, expectedInstanceId, observedInstanceId)
	}
}

func dispatchMismatchListener(l MismatchListener, taskId TaskId, expectedInstanceId, observedInstanceId TaskInstanceId) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task_id", taskId.String()).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("mismatch listener panicked")
		}
	}()
	l(taskId, expectedInstanceId, observedInstanceId)
}

// InfoListener is notified after every TaskInfo reply InfoFetcher
// receives, including a reply whose status the handle rejects.
type InfoListener func(info TaskInfo)

// infoListenerSet mirrors listenerSet's locking discipline for the
// narrower info-refresh-notification case.
type infoListenerSet struct {
	mu        sync.Mutex
	listeners []InfoListener
}

func (s *infoListenerSet) add(l InfoListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *infoListenerSet) notify(info TaskInfo) {
	s.mu.Lock()
	snapshot := make([]InfoListener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		dispatchInfoListener(l, info)
	}
}

func dispatchInfoListener(l InfoListener, info TaskInfo) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task_id", info.TaskStatus.TaskId.String()).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("info listener panicked")
		}
	}()
	l(info)
}
