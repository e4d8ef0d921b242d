package sync

import "time"

// State is the coarse sync state shown to the user.
type State string

// Sync states.
const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Status is a snapshot of the engine. LastSync is the zero time until the
// first successful cycle of this process.
type Status struct {
	State     State
	LastSync  time.Time
	LastError string
}

// Notification is published once per failed sync run.
type Notification struct {
	Time time.Time
	Err  error
}

// Notifier receives sync failure notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }
