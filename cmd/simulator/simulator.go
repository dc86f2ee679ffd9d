package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SimulatorConfig holds the simulator's connection and identity settings.
type SimulatorConfig struct {
	ServerURL     string
	ChargePointID string
	AuthToken     string
	Vendor        string
	Model         string
	IDTag         string
}

// ConnectorState tracks one connector's simulated status.
type ConnectorState struct {
	ID      int
	Status  string
	MeterWh int
}

// Simulator drives an OCPP 1.6J session against the acceptor, mirroring
// the framing and message-ID bookkeeping the real mediator expects from
// a charger.
type Simulator struct {
	config *SimulatorConfig
	conn   *websocket.Conn
	log    *zap.Logger

	connector ConnectorState

	currentTxID       int
	heartbeatInterval int

	messageID   int
	pendingMsgs map[string]chan json.RawMessage
	mu          sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSimulator builds a Simulator from config.
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	return &Simulator{
		config:            config,
		log:               log,
		connector:         ConnectorState{ID: 1, Status: "Available"},
		pendingMsgs:       make(map[string]chan json.RawMessage),
		stopChan:          make(chan struct{}),
		heartbeatInterval: 300,
	}
}

// Connect dials the acceptor's /ocpp/{chargePointId} endpoint and sends
// the initial BootNotification.
func (s *Simulator) Connect() error {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.config.ServerURL, "/"), s.config.ChargePointID)

	header := http.Header{}
	if s.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.config.AuthToken)
	}

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.conn = conn
	s.log.Info("connected to acceptor", zap.String("url", url), zap.String("chargePointId", s.config.ChargePointID))

	s.wg.Add(1)
	go s.readMessages()

	resp, err := s.sendBootNotification()
	if err != nil {
		s.log.Error("BootNotification failed", zap.Error(err))
	} else {
		s.log.Info("BootNotification accepted", zap.Any("response", resp))
		if interval, ok := resp["interval"].(float64); ok {
			s.heartbeatInterval = int(interval)
		}
	}

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

// Stop closes the connection and waits for background goroutines to exit.
func (s *Simulator) Stop() {
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}

func (s *Simulator) readMessages() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				s.log.Info("read loop stopped", zap.Error(err))
				return
			}
			s.handleMessage(message)
		}
	}
}

func (s *Simulator) handleMessage(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 3 {
		s.log.Warn("malformed frame from proxy", zap.ByteString("data", data))
		return
	}

	var kind int
	json.Unmarshal(raw[0], &kind)
	var msgID string
	json.Unmarshal(raw[1], &msgID)

	switch kind {
	case 2: // Call: an injected command from the proxy, or one relayed from the CSMS
		var action string
		json.Unmarshal(raw[2], &action)
		s.handleProxyRequest(msgID, action, raw[3])
	case 3: // CallResult
		s.mu.Lock()
		if ch, ok := s.pendingMsgs[msgID]; ok {
			ch <- raw[2]
			delete(s.pendingMsgs, msgID)
		}
		s.mu.Unlock()
	case 4: // CallError
		s.mu.Lock()
		if ch, ok := s.pendingMsgs[msgID]; ok {
			close(ch)
			delete(s.pendingMsgs, msgID)
		}
		s.mu.Unlock()
	}
}

func (s *Simulator) handleProxyRequest(msgID, action string, payload json.RawMessage) {
	s.log.Info("received injected request", zap.String("action", action))

	var response interface{}
	switch action {
	case "RemoteStartTransaction":
		var req struct {
			ConnectorID int    `json:"connectorId"`
			IDTag       string `json:"idTag"`
		}
		json.Unmarshal(payload, &req)
		response = map[string]interface{}{"status": "Accepted"}
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.sendStatusNotification(s.connector.ID, "Charging")
		}()
	case "RemoteStopTransaction":
		response = map[string]interface{}{"status": "Accepted"}
	case "SetChargingProfile":
		response = map[string]interface{}{"status": "Accepted"}
	case "ClearChargingProfile":
		response = map[string]interface{}{"status": "Accepted"}
	case "Reset":
		response = map[string]interface{}{"status": "Accepted"}
	default:
		s.sendCallError(msgID, "NotImplemented", fmt.Sprintf("action %s not implemented by simulator", action))
		return
	}
	s.sendCallResult(msgID, response)
}

func (s *Simulator) sendCall(action string, payload interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	s.messageID++
	msgID := strconv.Itoa(s.messageID)
	respCh := make(chan json.RawMessage, 1)
	s.pendingMsgs[msgID] = respCh
	s.mu.Unlock()

	msg := []interface{}{2, msgID, action, payload}
	data, _ := json.Marshal(msg)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}

	select {
	case raw := <-respCh:
		var result map[string]interface{}
		json.Unmarshal(raw, &result)
		return result, nil
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response to %s", action)
	}
}

func (s *Simulator) sendCallResult(msgID string, payload interface{}) {
	msg := []interface{}{3, msgID, payload}
	data, _ := json.Marshal(msg)
	s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Simulator) sendCallError(msgID, code, desc string) {
	msg := []interface{}{4, msgID, code, desc, map[string]interface{}{}}
	data, _ := json.Marshal(msg)
	s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Simulator) sendBootNotification() (map[string]interface{}, error) {
	return s.sendCall("BootNotification", map[string]interface{}{
		"chargePointVendor": s.config.Vendor,
		"chargePointModel":  s.config.Model,
	})
}

func (s *Simulator) sendHeartbeat() {
	s.sendCall("Heartbeat", map[string]interface{}{})
}

func (s *Simulator) sendStatusNotification(connectorID int, status string) {
	s.connector.Status = status
	s.sendCall("StatusNotification", map[string]interface{}{
		"connectorId": connectorID,
		"errorCode":   "NoError",
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Simulator) sendStartTransaction(connectorID int) {
	resp, err := s.sendCall("StartTransaction", map[string]interface{}{
		"connectorId": connectorID,
		"idTag":       s.config.IDTag,
		"meterStart":  s.connector.MeterWh,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error("StartTransaction failed", zap.Error(err))
		return
	}
	if txID, ok := resp["transactionId"].(float64); ok {
		s.currentTxID = int(txID)
	}
	s.log.Info("transaction started", zap.Int("transactionId", s.currentTxID))
}

func (s *Simulator) sendStopTransaction(transactionID int) {
	_, err := s.sendCall("StopTransaction", map[string]interface{}{
		"transactionId": transactionID,
		"idTag":         s.config.IDTag,
		"meterStop":     s.connector.MeterWh,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error("StopTransaction failed", zap.Error(err))
	}
}

func (s *Simulator) sendMeterValues(connectorID, valueWh int) {
	s.connector.MeterWh = valueWh
	s.sendCall("MeterValues", map[string]interface{}{
		"connectorId": connectorID,
		"meterValue": []map[string]interface{}{
			{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"sampledValue": []map[string]interface{}{
					{"value": strconv.Itoa(valueWh), "measurand": "Energy.Active.Import.Register", "unit": "Wh"},
				},
			},
		},
	})
}

func (s *Simulator) sendAuthorize() {
	resp, err := s.sendCall("Authorize", map[string]interface{}{"idTag": s.config.IDTag})
	if err != nil {
		s.log.Error("Authorize failed", zap.Error(err))
		return
	}
	s.log.Info("Authorize response", zap.Any("response", resp))
}

func (s *Simulator) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.heartbeatInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}

// RunInteractive reads simple commands from stdin and drives the
// simulator accordingly; see main.go's command summary.
func (s *Simulator) RunInteractive() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "status":
			if len(args) < 2 {
				fmt.Println("usage: status <connector> <status>")
				break
			}
			connID, _ := strconv.Atoi(args[0])
			s.sendStatusNotification(connID, args[1])
			fmt.Printf("sent StatusNotification connector=%d status=%s\n", connID, args[1])
		case "start":
			connID := 1
			if len(args) > 0 {
				connID, _ = strconv.Atoi(args[0])
			}
			s.sendStartTransaction(connID)
		case "stop":
			if len(args) < 1 {
				fmt.Println("usage: stop <transactionId>")
				break
			}
			txID, _ := strconv.Atoi(args[0])
			s.sendStopTransaction(txID)
		case "meter":
			if len(args) < 2 {
				fmt.Println("usage: meter <connector> <wh>")
				break
			}
			connID, _ := strconv.Atoi(args[0])
			wh, _ := strconv.Atoi(args[1])
			s.sendMeterValues(connID, wh)
		case "authorize":
			s.sendAuthorize()
		case "heartbeat":
			s.sendHeartbeat()
			fmt.Println("sent Heartbeat")
		case "quit", "exit":
			fmt.Println("goodbye")
			return
		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
		fmt.Print("> ")
	}
}
