// Package safego launches goroutines that log panics instead of crashing
// the process. A panic in a stream-reader or watcher goroutine must never
// take down every other in-flight request.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn on a new goroutine with panic recovery. name identifies the
// goroutine in the panic log line (e.g. "stream-reader:<request_id>").
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("name", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
