package remotetask

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerSet_NotifyDispatchesToAll(t *testing.T) {
	var mu sync.Mutex
	var seen []TaskState

	s := &listenerSet{}
	s.add(func(status TaskStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status.State)
	})
	s.add(func(status TaskStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status.State)
	})

	s.notify(TaskStatus{State: TaskStateRunning})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []TaskState{TaskStateRunning, TaskStateRunning}, seen)
}

func TestListenerSet_PanicIsRecovered(t *testing.T) {
	s := &listenerSet{}
	called := false
	s.add(func(status TaskStatus) { panic("boom") })
	s.add(func(status TaskStatus) { called = true })

	assert.NotPanics(t, func() {
		s.notify(TaskStatus{State: TaskStateFinished})
	})
	assert.True(t, called, "a panicking listener must not stop later listeners from running")
}

func TestListenerSet_AddDuringNotifyDoesNotDeadlock(t *testing.T) {
	s := &listenerSet{}
	done := make(chan struct{})
	s.add(func(status TaskStatus) {
		s.add(func(status TaskStatus) {})
		close(done)
	})

	assert.NotPanics(t, func() {
		s.notify(TaskStatus{State: TaskStateRunning})
	})
	<-done
}
