// Package broadcast fans live message-log records out to NATS for the
// dashboard's live-tail view (spec §2: "browser dashboard" is an
// external collaborator). This is purely observational — nothing in the
// mediator reads it back — and publishing never blocks forwarding: the
// NATS client call is a non-blocking enqueue onto its own outbound
// buffer, matching the drop-rather-than-stall discipline spec §5
// prescribes for the persistence log queue.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// Publisher fans out message-log records for live-tail consumers.
type Publisher interface {
	PublishLog(rec persistence.LogRecord)
	Subscribe(chargePointID string, handler func(persistence.LogRecord)) (unsubscribe func(), err error)
	Close() error
}

func subject(chargePointID string) string {
	return fmt.Sprintf("ocpp.log.%s", chargePointID)
}

// NATSPublisher backs Publisher with a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATSPublisher dials url and returns a ready Publisher.
func NewNATSPublisher(url string, log *zap.Logger) (Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS for dashboard log fan-out", zap.String("url", url))
	return &NATSPublisher{conn: nc, log: log}, nil
}

func (p *NATSPublisher) PublishLog(rec persistence.LogRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.log.Warn("failed to marshal log record for broadcast", zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject(rec.ChargePointID), data); err != nil {
		p.log.Warn("failed to publish log record", zap.String("chargePointId", rec.ChargePointID), zap.Error(err))
	}
}

func (p *NATSPublisher) Subscribe(chargePointID string, handler func(persistence.LogRecord)) (func(), error) {
	sub, err := p.conn.Subscribe(subject(chargePointID), func(msg *nats.Msg) {
		var rec persistence.LogRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			p.log.Warn("failed to unmarshal broadcast log record", zap.Error(err))
			return
		}
		handler(rec)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NoopPublisher discards everything; used when NATS is unavailable so
// the proxy still starts (fan-out is observational, never load-bearing).
type NoopPublisher struct{}

func (NoopPublisher) PublishLog(persistence.LogRecord) {}
func (NoopPublisher) Subscribe(string, func(persistence.LogRecord)) (func(), error) {
	return func() {}, nil
}
func (NoopPublisher) Close() error { return nil }
