// Package logging provides leveled debug output on top of the standard logger.
// Messages at or below the current level are printed; level 0 is always
// printed.
package logging

import (
	"log"
	"sync/atomic"
)

var debugLevel uint64

// SetLevel changes the threshold above which messages are discarded.
func SetLevel(level uint64) {
	atomic.StoreUint64(&debugLevel, level)
}

// Level returns the current threshold.
func Level() uint64 {
	return atomic.LoadUint64(&debugLevel)
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Level() {
		log.Printf(format, a...)
	}
}
