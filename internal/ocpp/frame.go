// Package ocpp implements the OCPP 1.6J/2.0.1 JSON-array wire framing
// shared by the charger-facing and CSMS-facing WebSocket connections.
package ocpp

import (
	"encoding/json"
	"fmt"
)

// Kind tags the three OCPP message shapes. A decode failure is not a
// Kind; Decode reports it as a *MalformedFrameError.
type Kind int

const (
	// Request is a Call: [2, id, action, payload].
	Request Kind = iota
	// Response is a CallResult: [3, id, payload].
	Response
	// ErrorResponse is a CallError: [4, id, code, description, details].
	ErrorResponse
)

const (
	callMessageType       = 2
	callResultMessageType = 3
	callErrorMessageType  = 4
)

// Frame is the decoded, tagged-variant form of an OCPP message. Only the
// fields relevant to Kind are populated; callers should switch on Kind
// before reading Action/Payload vs. Code/Description/Details.
type Frame struct {
	Kind        Kind
	ID          string
	Action      string          // Request only
	Payload     json.RawMessage // Request, Response
	Code        string          // ErrorResponse only
	Description string          // ErrorResponse only
	Details     json.RawMessage // ErrorResponse only
}

// MalformedFrameError signals that raw bytes did not decode to one of
// the three OCPP message shapes. The session mediator logs this and
// drops the single offending frame; it never tears down the session.
type MalformedFrameError struct {
	Reason string
	Raw    []byte
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed OCPP frame: %s", e.Reason)
}

// Decode parses a raw text WebSocket frame into a Frame, or returns a
// *MalformedFrameError if the outer value isn't a JSON array of one of
// the three recognized shapes.
func Decode(raw []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Frame{}, &MalformedFrameError{Reason: "not a JSON array: " + err.Error(), Raw: raw}
	}
	if len(parts) < 3 {
		return Frame{}, &MalformedFrameError{Reason: "too few elements", Raw: raw}
	}

	var msgType int
	if err := json.Unmarshal(parts[0], &msgType); err != nil {
		return Frame{}, &MalformedFrameError{Reason: "non-integer message type", Raw: raw}
	}

	var id string
	if err := json.Unmarshal(parts[1], &id); err != nil {
		return Frame{}, &MalformedFrameError{Reason: "non-string message id", Raw: raw}
	}

	switch msgType {
	case callMessageType:
		if len(parts) != 4 {
			return Frame{}, &MalformedFrameError{Reason: "Call requires 4 elements", Raw: raw}
		}
		var action string
		if err := json.Unmarshal(parts[2], &action); err != nil {
			return Frame{}, &MalformedFrameError{Reason: "non-string action", Raw: raw}
		}
		return Frame{Kind: Request, ID: id, Action: action, Payload: parts[3]}, nil

	case callResultMessageType:
		if len(parts) != 3 {
			return Frame{}, &MalformedFrameError{Reason: "CallResult requires 3 elements", Raw: raw}
		}
		return Frame{Kind: Response, ID: id, Payload: parts[2]}, nil

	case callErrorMessageType:
		if len(parts) != 5 {
			return Frame{}, &MalformedFrameError{Reason: "CallError requires 5 elements", Raw: raw}
		}
		var code, desc string
		if err := json.Unmarshal(parts[2], &code); err != nil {
			return Frame{}, &MalformedFrameError{Reason: "non-string error code", Raw: raw}
		}
		if err := json.Unmarshal(parts[3], &desc); err != nil {
			return Frame{}, &MalformedFrameError{Reason: "non-string error description", Raw: raw}
		}
		return Frame{Kind: ErrorResponse, ID: id, Code: code, Description: desc, Details: parts[4]}, nil

	default:
		return Frame{}, &MalformedFrameError{Reason: fmt.Sprintf("unknown message type %d", msgType), Raw: raw}
	}
}

// Encode renders a Frame back to its wire JSON array form. Payload and
// Details are passed through verbatim.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case Request:
		payload := f.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{callMessageType, f.ID, f.Action, payload})
	case Response:
		payload := f.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{callResultMessageType, f.ID, payload})
	case ErrorResponse:
		details := f.Details
		if details == nil {
			details = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{callErrorMessageType, f.ID, f.Code, f.Description, details})
	default:
		return nil, fmt.Errorf("ocpp: unknown frame kind %d", f.Kind)
	}
}

// EncodeCall builds a Call frame for action with payload marshaled from v.
func EncodeCall(id, action string, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal payload for %s: %w", action, err)
	}
	return Encode(Frame{Kind: Request, ID: id, Action: action, Payload: payload})
}

// EncodeResult builds a CallResult frame for id with payload marshaled from v.
func EncodeResult(id string, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal result payload: %w", err)
	}
	return Encode(Frame{Kind: Response, ID: id, Payload: payload})
}
