package mediator

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// newMessageID returns an opaque id unique process-wide for well beyond
// the 60s pendingInjections/pendingAuthTags TTL window (spec §3).
func newMessageID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

// txCounter is the process-wide monotonically increasing transaction id
// counter required by the standalone responder's StartTransaction reply
// (spec §4.4), starting at 100000. It need not survive a restart.
var txCounter int64 = 99999

func nextTransactionID() int {
	return int(atomic.AddInt64(&txCounter, 1))
}
