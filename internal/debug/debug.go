// Package debug provides cheap, env-gated leveled logging for the
// transport core's hot paths, in the same spirit as go-amqp's internal
// debug shim: zero cost when disabled, no external logging dependency for
// the unicast code path.
package debug

import (
	"fmt"
	"os"
	"strconv"
)

var level = parseLevel(os.Getenv("JANU_DEBUG"))

func parseLevel(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Enabled reports whether logging at lvl is currently active.
func Enabled(lvl int) bool {
	return lvl <= level
}

// Log writes a leveled debug message to stderr if lvl is within the
// currently configured JANU_DEBUG level.
func Log(lvl int, format string, args ...interface{}) {
	if !Enabled(lvl) {
		return
	}
	fmt.Fprintf(os.Stderr, "[janu debug %d] "+format+"\n", append([]interface{}{lvl}, args...)...)
}
