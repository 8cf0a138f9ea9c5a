package delivery

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrValidationFailed is returned when an enqueue request is malformed
	ErrValidationFailed = errors.New("notification request validation failed")

	// ErrDuplicateRequest is returned when a dedup key was already used for the channel within the dedup window
	ErrDuplicateRequest = errors.New("duplicate notification request")

	// ErrRecipientUnknown is returned when the directory cannot resolve the recipient for the channel
	ErrRecipientUnknown = errors.New("recipient unknown")

	// ErrNotFound is returned when a notification does not exist
	ErrNotFound = errors.New("notification not found")

	// ErrVersionConflict is returned when a stored transition loses an optimistic version check
	ErrVersionConflict = errors.New("notification was modified concurrently")

	// ErrUnsupportedEvent is returned when an external event kind cannot be reported
	ErrUnsupportedEvent = errors.New("unsupported external event kind")

	// ErrStoreNil is returned when a required store is not provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrDirectoryNil is returned when no recipient directory is provided
	ErrDirectoryNil = errors.New("recipient directory cannot be nil")

	// ErrPollFailed is returned when due work cannot be loaded from storage
	ErrPollFailed = errors.New("failed to poll due notifications")

	// ErrTransitionFailed is returned when a lifecycle transition cannot be stored
	ErrTransitionFailed = errors.New("failed to store notification transition")

	// ErrIllegalTransition is returned when a status change is not part of the delivery lifecycle
	ErrIllegalTransition = errors.New("illegal notification status transition")

	// ErrPolicyCheckFailed is returned when the gate or limiter cannot reach their stores
	ErrPolicyCheckFailed = errors.New("failed to evaluate delivery policy")

	// ErrDispatcherRunning is returned when Start is called twice
	ErrDispatcherRunning = errors.New("dispatcher already started")
)

// ValidationErrors maps request fields to human readable problems.
// It is joined with ErrValidationFailed when returned from Enqueue.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(v[f])
	}
	return b.String()
}
