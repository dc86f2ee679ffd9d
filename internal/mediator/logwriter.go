package mediator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/metrics"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// logQueueCap bounds the message-log worker's queue. Spec §5: "if the
// queue is full, drop the oldest queued log record" rather than stall
// forwarding.
const logQueueCap = 4096

// LogWriter takes message-log records off the mediator's hot path and
// persists them from a single background goroutine. Enqueue never
// blocks: on a full queue it drops the oldest entry and counts it.
type LogWriter struct {
	store persistence.Store
	log   *zap.Logger
	ch    chan persistence.LogRecord
	done  chan struct{}
}

// NewLogWriter starts the background persistence worker.
func NewLogWriter(store persistence.Store, log *zap.Logger) *LogWriter {
	w := &LogWriter{
		store: store,
		log:   log,
		ch:    make(chan persistence.LogRecord, logQueueCap),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands rec to the background worker, dropping the oldest queued
// record if the queue is saturated.
func (w *LogWriter) Enqueue(rec persistence.LogRecord) {
	select {
	case w.ch <- rec:
		return
	default:
	}
	select {
	case <-w.ch:
		metrics.LogQueueDroppedTotal.Inc()
	default:
	}
	select {
	case w.ch <- rec:
	default:
		metrics.LogQueueDroppedTotal.Inc()
	}
}

func (w *LogWriter) run() {
	defer close(w.done)
	for rec := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.AppendLog(ctx, rec); err != nil {
			w.log.Warn("failed to persist message log record",
				zap.String("chargePointId", rec.ChargePointID),
				zap.String("direction", string(rec.Direction)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (w *LogWriter) Close() {
	close(w.ch)
	<-w.done
}
