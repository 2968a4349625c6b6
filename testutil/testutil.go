// Package testutil provides shared test helpers for meshstore tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WaitFor polls cond until it returns true or the timeout elapses.
// Distributed-membership tests are timing-driven; polling keeps them
// fast without racing fixed sleeps against the update cycle.
func WaitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// WriteFile writes content under dir and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// SetModTime backdates (or forward-dates) a file's modification time so
// tests can control last-write-wins ordering.
func SetModTime(t *testing.T, path string, mt time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("failed to set mod time on %s: %v", path, err)
	}
}
