package ocpp

import (
	"encoding/json"
	"testing"
)

func TestDecodeCall(t *testing.T) {
	raw := []byte(`[2,"m1","Heartbeat",{}]`)
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != Request || f.ID != "m1" || f.Action != "Heartbeat" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeCallResult(t *testing.T) {
	raw := []byte(`[3,"m1",{"currentTime":"2025-01-01T00:00:00Z"}]`)
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != Response || f.ID != "m1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeCallError(t *testing.T) {
	raw := []byte(`[4,"m1","InternalError","boom",{}]`)
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != ErrorResponse || f.Code != "InternalError" || f.Description != "boom" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`[2,"m1"]`),
		[]byte(`[9,"m1","x",{}]`),
		[]byte(`{"a":1}`),
	}
	for _, raw := range cases {
		_, err := Decode(raw)
		if err == nil {
			t.Fatalf("expected MalformedFrameError for %s", raw)
		}
		if _, ok := err.(*MalformedFrameError); !ok {
			t.Fatalf("expected *MalformedFrameError, got %T", err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := []byte(`[2,"abc","RemoteStartTransaction",{"connectorId":1,"idTag":"T"}]`)
	f, err := Decode(original)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var wantNorm, gotNorm interface{}
	if err := json.Unmarshal(original, &wantNorm); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(encoded, &gotNorm); err != nil {
		t.Fatal(err)
	}
	wantJSON, _ := json.Marshal(wantNorm)
	gotJSON, _ := json.Marshal(gotNorm)
	if string(wantJSON) != string(gotJSON) {
		t.Fatalf("round-trip mismatch: want %s got %s", wantJSON, gotJSON)
	}
}

func TestEncodeCallAndResult(t *testing.T) {
	b, err := EncodeCall("x7", "RemoteStartTransaction", map[string]interface{}{"connectorId": 1, "idTag": "T"})
	if err != nil {
		t.Fatal(err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Action != "RemoteStartTransaction" || f.ID != "x7" {
		t.Fatalf("unexpected: %+v", f)
	}

	b, err = EncodeResult("x7", map[string]string{"status": "Accepted"})
	if err != nil {
		t.Fatal(err)
	}
	f, err = Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != Response || f.ID != "x7" {
		t.Fatalf("unexpected: %+v", f)
	}
}
