package exception

import (
	"fmt"
	"runtime/debug"

	"github.com/triunity/node/logx"
	"github.com/triunity/node/monitoring"
)

// SafeGo runs fn in a goroutine and logs instead of crashing on panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", "Panic in:", name, r, string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// Guard wraps fn for an errgroup: a panic becomes the returned error.
func Guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", "Panic in:", name, r, string(debug.Stack()))
				err = fmt.Errorf("panic in %s: %v", name, r)
			}
		}()
		return fn()
	}
}
