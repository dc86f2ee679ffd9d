package mediator

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/metrics"
	"github.com/eva-sean/oye-proxy/internal/ocpp"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// autoStartDelay is how long after a Preparing StatusNotification the
// standalone responder waits before injecting RemoteStartTransaction
// (spec §4.4 "schedule (~100ms)").
const autoStartDelay = 100 * time.Millisecond

type idTagInfo struct {
	Status string `json:"status"`
}

type authorizeResponse struct {
	IDTagInfo idTagInfo `json:"idTagInfo"`
}

type bootNotificationResponse struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
}

type heartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type startTransactionResponse struct {
	TransactionID int       `json:"transactionId"`
	IDTagInfo     idTagInfo `json:"idTagInfo"`
}

type authorizeRequest struct {
	IDTag string `json:"idTag"`
}

type statusNotificationRequest struct {
	ConnectorID int    `json:"connectorId"`
	Status      string `json:"status"`
}

// standaloneRespond implements the table in spec §4.4. It returns the
// payload to send back to the charger and whether any response should
// be synthesized at all ("any other" action synthesizes nothing).
func (s *Session) standaloneRespond(frame ocpp.Frame) (interface{}, bool) {
	switch frame.Action {
	case "BootNotification":
		return bootNotificationResponse{Status: "Accepted", CurrentTime: time.Now().UTC(), Interval: 300}, true

	case "Heartbeat":
		return heartbeatResponse{CurrentTime: time.Now().UTC()}, true

	case "Authorize":
		var req authorizeRequest
		_ = json.Unmarshal(frame.Payload, &req)

		cfg := s.deps.Config.Get()
		s.mu.Lock()
		_, pending := s.pendingAuthTags[req.IDTag]
		if pending {
			delete(s.pendingAuthTags, req.IDTag)
		}
		s.mu.Unlock()

		if cfg.AutoChargeEnabled || pending {
			return authorizeResponse{IDTagInfo: idTagInfo{Status: "Accepted"}}, true
		}
		return authorizeResponse{IDTagInfo: idTagInfo{Status: "Invalid"}}, true

	case "StatusNotification":
		var req statusNotificationRequest
		_ = json.Unmarshal(frame.Payload, &req)

		cfg := s.deps.Config.Get()
		if cfg.AutoChargeEnabled && req.Status == "Preparing" {
			connectorID := req.ConnectorID
			if connectorID == 0 {
				connectorID = 1
			}
			time.AfterFunc(autoStartDelay, func() {
				if _, err := s.injectRemoteStart(connectorID, cfg.DefaultIDTag); err != nil {
					s.deps.Log.Warn("failed to auto-start transaction",
						zap.String("chargePointId", s.ChargePointID), zap.Error(err))
				}
			})
		}
		return struct{}{}, true

	case "MeterValues":
		return struct{}{}, true

	case "StartTransaction":
		return startTransactionResponse{
			TransactionID: nextTransactionID(),
			IDTagInfo:     idTagInfo{Status: "Accepted"},
		}, true

	case "StopTransaction":
		return authorizeResponse{IDTagInfo: idTagInfo{Status: "Accepted"}}, true

	default:
		return nil, false
	}
}

// respondStandalone runs the responder table for frame and, if it
// produced a response, sends it back down the charger socket and logs
// it as PROXY_RESPONSE (spec §4.3 step 4).
func (s *Session) respondStandalone(frame ocpp.Frame) {
	payload, ok := s.standaloneRespond(frame)
	if !ok {
		return
	}
	raw, err := ocpp.EncodeResult(frame.ID, payload)
	if err != nil {
		s.deps.Log.Error("failed to encode standalone response",
			zap.String("chargePointId", s.ChargePointID), zap.String("action", frame.Action), zap.Error(err))
		return
	}
	if err := s.writeCharger(raw); err != nil {
		s.deps.Log.Warn("failed to deliver standalone response, tearing down session",
			zap.String("chargePointId", s.ChargePointID), zap.Error(err))
		s.Close()
		return
	}
	metrics.ProxyResponsesTotal.WithLabelValues(frame.Action).Inc()
	s.logFrame(persistence.DirProxyResponse, raw)
}
