// Package system holds small global process-state flags consumed by the
// CLI front-end. Squelch mutes outbound alert notifications without
// stopping the messaging gateway singleton itself.
package system

import "sync"

var (
	squelched bool
	mu        sync.RWMutex
)

// IsSquelched returns true if outbound alert notifications are muted.
func IsSquelched() bool {
	mu.RLock()
	defer mu.RUnlock()
	return squelched
}

// Squelch mutes outbound alert notifications.
func Squelch() {
	mu.Lock()
	defer mu.Unlock()
	squelched = true
}

// Unsquelch re-enables outbound alert notifications.
func Unsquelch() {
	mu.Lock()
	defer mu.Unlock()
	squelched = false
}
