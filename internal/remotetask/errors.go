package remotetask

// ErrorCode classifies why a task reached FAILED.
type ErrorCode string

const (
	// ErrRemoteTaskMismatch: instanceId changed after first contact, or
	// version regressed with the same instanceId. Fatal; FAILED.
	ErrRemoteTaskMismatch ErrorCode = "REMOTE_TASK_MISMATCH"
	// ErrRemoteTaskError: RPC unavailability exceeding maxErrorDuration, or
	// the RPC client refusing work. Fatal; FAILED.
	ErrRemoteTaskError ErrorCode = "REMOTE_TASK_ERROR"
	// ErrLocalFailure: the planner called fail(cause) directly.
	ErrLocalFailure ErrorCode = "LOCAL_FAILURE"
)
