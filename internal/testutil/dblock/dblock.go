package dblock

import (
	"net"
	"testing"
	"time"
)

// Packages share one Postgres database; tests that truncate tables hold this
// loopback listener so only one package touches the schema at a time.
const lockAddr = "127.0.0.1:45432"

// Acquire blocks until the cross-package lock is free and releases it on test cleanup.
func Acquire(tb testing.TB) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			tb.Cleanup(func() { _ = ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("database lock %s not acquired: %v", lockAddr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
