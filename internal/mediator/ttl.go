package mediator

import (
	"time"

	"github.com/eva-sean/oye-proxy/internal/metrics"
)

// pendingTTL is the 60s bound spec §3/§4.3 place on pendingInjections and
// pendingAuthTags entries.
const pendingTTL = 60 * time.Second

// ttlSweepInterval governs the single scanning task spec §5 allows in
// place of one timer per entry.
const ttlSweepInterval = time.Second

// runTTLSweeper purges expired pendingInjections/pendingAuthTags entries
// until closeCh fires. Safe against concurrent removal by the
// matching-frame path since both paths take s.mu.
func (s *Session) runTTLSweeper() {
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) sweepExpired() {
	cutoff := time.Now().Add(-pendingTTL)
	s.mu.Lock()
	expired := 0
	for id, t := range s.pendingInjections {
		if t.Before(cutoff) {
			delete(s.pendingInjections, id)
			expired++
		}
	}
	for tag, t := range s.pendingAuthTags {
		if t.Before(cutoff) {
			delete(s.pendingAuthTags, tag)
		}
	}
	s.mu.Unlock()
	if expired > 0 {
		metrics.PendingInjections.Sub(float64(expired))
	}
}
