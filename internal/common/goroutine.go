package common

import (
	"fmt"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine with panic recovery. A panic is logged with its
// stack and reported through onPanic (when non-nil) instead of crashing the process.
func SafeGo(logger arbor.ILogger, name string, fn func(), onPanic func(recovered interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(buf[:n])).
					Msg("Recovered from panic in goroutine")

				if onPanic != nil {
					onPanic(r)
				}
			}
		}()

		fn()
	}()
}
