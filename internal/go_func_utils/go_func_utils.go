package go_func_utils

import (
	"log"
	"runtime/debug"
	"sync"
)

// SafeGo runs fn on a new goroutine. A panic is written to logger with its stack
// before being re-raised, so it lands in the log file even when the terminal
// dashboard owns stdout.
func SafeGo(logger *log.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}

// SafeGoWG is SafeGo with wg.Done called when fn returns
func SafeGoWG(logger *log.Logger, wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	SafeGo(logger, name, func() {
		defer wg.Done()
		fn()
	})
}
