//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/eva-sean/oye-proxy/internal/persistence"
)

func TestStore_ChargerLifecycle(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer TeardownTestEnvironment(t)

	ctx := context.Background()
	const chargePointID = "CP-INTEGRATION-1"

	if err := env.Store.UpsertCharger(ctx, chargePointID, persistence.StatusOnline); err != nil {
		t.Fatalf("upsert charger: %v", err)
	}

	row, err := env.Store.GetCharger(ctx, chargePointID)
	if err != nil {
		t.Fatalf("get charger: %v", err)
	}
	if row.Status != persistence.StatusOnline {
		t.Fatalf("expected status ONLINE, got %s", row.Status)
	}

	limit := 16.0
	if err := env.Store.SetPersistentLimit(ctx, chargePointID, &limit); err != nil {
		t.Fatalf("set persistent limit: %v", err)
	}

	row, err = env.Store.GetCharger(ctx, chargePointID)
	if err != nil {
		t.Fatalf("get charger after limit: %v", err)
	}
	if row.MaxPower == nil || *row.MaxPower != limit {
		t.Fatalf("expected persisted limit %v, got %v", limit, row.MaxPower)
	}

	if err := env.Store.UpsertCharger(ctx, chargePointID, persistence.StatusOffline); err != nil {
		t.Fatalf("upsert offline: %v", err)
	}
	row, err = env.Store.GetCharger(ctx, chargePointID)
	if err != nil {
		t.Fatalf("get charger after offline: %v", err)
	}
	if row.MaxPower == nil || *row.MaxPower != limit {
		t.Fatal("expected persistent limit to survive a status-only upsert")
	}
}

func TestStore_ConfigRoundTrip(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer TeardownTestEnvironment(t)

	ctx := context.Background()
	if err := env.Store.SetConfig(ctx, map[string]string{"csmsForwardingEnabled": "true", "defaultIdTag": "TESTTAG"}); err != nil {
		t.Fatalf("set config: %v", err)
	}

	values, err := env.Store.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if values["csmsForwardingEnabled"] != "true" || values["defaultIdTag"] != "TESTTAG" {
		t.Fatalf("unexpected config: %+v", values)
	}
}

func TestStore_AppendLog(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer TeardownTestEnvironment(t)

	ctx := context.Background()
	rec := persistence.LogRecord{
		ChargePointID: "CP-INTEGRATION-2",
		Direction:     persistence.DirUpstream,
		PayloadJSON:   `[2,"1","Heartbeat",{}]`,
		UnixSeconds:   1700000000,
	}
	if err := env.Store.AppendLog(ctx, rec); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestCache_GetSetDelete(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer TeardownTestEnvironment(t)

	ctx := context.Background()
	if err := env.Cache.Set(ctx, "oye:test:key", "value", 0); err != nil {
		t.Fatalf("cache set: %v", err)
	}

	got, err := env.Cache.Get(ctx, "oye:test:key")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if got != "value" {
		t.Fatalf("expected value, got %q", got)
	}

	if err := env.Cache.Delete(ctx, "oye:test:key"); err != nil {
		t.Fatalf("cache delete: %v", err)
	}
	if _, err := env.Cache.Get(ctx, "oye:test:key"); err == nil {
		t.Fatal("expected error reading deleted key")
	}
}
