package config

import "testing"

func TestDefaultDynamic(t *testing.T) {
	d := DefaultDynamic()
	if d.CSMSForwardingEnabled {
		t.Fatal("forwarding should default to disabled")
	}
	if d.MaxReconnectAttempts != 3 || d.ReconnectBaseDelayMS != 1000 || d.EgressBufferCap != 1024 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestUpstreamURLInsertsSeparator(t *testing.T) {
	d := DefaultDynamic()
	d.TargetCSMSURL = "wss://csms.example.com/ocpp"
	if got, want := d.UpstreamURL("CP01"), "wss://csms.example.com/ocpp/CP01"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	d.TargetCSMSURL = "wss://csms.example.com/ocpp/"
	if got, want := d.UpstreamURL("CP01"), "wss://csms.example.com/ocpp/CP01"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFromMapPartialUpdate(t *testing.T) {
	base := DefaultDynamic()
	base.DefaultIDTag = "EXISTING"

	next, err := FromMap(base, map[string]string{"csmsForwardingEnabled": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.CSMSForwardingEnabled {
		t.Fatal("expected forwarding enabled")
	}
	if next.DefaultIDTag != "EXISTING" {
		t.Fatalf("partial update clobbered unrelated field: %+v", next)
	}
}

func TestFromMapRejectsInvalidValues(t *testing.T) {
	base := DefaultDynamic()
	cases := map[string]string{
		"csmsForwardingEnabled": "not-a-bool",
		"maxReconnectAttempts":  "-1",
		"egressBufferCap":       "0",
	}
	for key, value := range cases {
		if _, err := FromMap(base, map[string]string{key: value}); err == nil {
			t.Fatalf("expected error for %s=%s", key, value)
		}
	}
}

func TestAsMapRoundTrip(t *testing.T) {
	base := DefaultDynamic()
	base.TargetCSMSURL = "wss://csms.example.com"
	base.AutoChargeEnabled = true

	next, err := FromMap(DefaultDynamic(), base.AsMap())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != base {
		t.Fatalf("round trip mismatch: got %+v want %+v", next, base)
	}
}

func TestStoreSwapIsVisibleToGet(t *testing.T) {
	s := NewStore(DefaultDynamic())
	if s.Get().CSMSForwardingEnabled {
		t.Fatal("expected initial snapshot")
	}

	next := DefaultDynamic()
	next.CSMSForwardingEnabled = true
	s.Swap(next)

	if !s.Get().CSMSForwardingEnabled {
		t.Fatal("swap not visible to subsequent Get")
	}
}
