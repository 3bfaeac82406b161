package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is anything with a context-aware ping. pgxpool.Pool satisfies it
// directly; wrap clients with other signatures in a closure.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a dependency through its Ping method.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineCountCheck flags a goroutine leak once the count passes the
// threshold. Intended as a liveness probe.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
