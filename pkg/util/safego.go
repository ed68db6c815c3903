// safego.go — panic-isolated goroutine launcher.
package util

import (
	"os"
	"runtime/debug"

	"github.com/agentfabric/fabric/pkg/logger"
)

// ExitInvariantViolation is the process exit code a FatalInvariant panic
// triggers when it surfaces through SafeGo (see cmd/fabricd's own copy of
// this code, kept in sync by referencing this constant directly).
const ExitInvariantViolation = 70

// FatalInvariant marks a recovered panic value as a defect the process must
// not keep running past, rather than an ordinary goroutine bug SafeGo can
// just log and move on from.
type FatalInvariant interface {
	FatalInvariant() bool
}

// safeGoExit is os.Exit, indirected so tests can observe a FatalInvariant
// panic without actually killing the test binary.
var safeGoExit = os.Exit

// SafeGo runs fn in a new goroutine, recovering an ordinary panic so one bad
// goroutine never takes down the process. A panic value satisfying
// FatalInvariant is logged and turned into safeGoExit(ExitInvariantViolation)
// instead: these mark fabric state the process cannot keep running with.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if fi, ok := r.(FatalInvariant); ok && fi.FatalInvariant() {
					logger.Error("fatal invariant violation, exiting",
						logger.FieldError, r,
						"stack", string(debug.Stack()),
					)
					safeGoExit(ExitInvariantViolation)
					return
				}
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
