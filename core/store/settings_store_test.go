package store

import (
	"context"
	"testing"
)

func TestSettingsSetGetDelete(t *testing.T) {
	db := testDB(t)
	settings := NewSettingsStore(db)
	ctx := context.Background()

	if _, found, err := settings.Get(ctx, "station.callsign"); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}
	if err := settings.Set(ctx, "station.callsign", "W1AW"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := settings.Set(ctx, "station.callsign", "KD2ABC"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, found, err := settings.Get(ctx, "station.callsign")
	if err != nil || !found || value != "KD2ABC" {
		t.Fatalf("get after overwrite: %q found=%v err=%v", value, found, err)
	}

	if err := settings.Set(ctx, "station.name", "EOC North"); err != nil {
		t.Fatalf("set second: %v", err)
	}
	all, err := settings.All(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %v %v", all, err)
	}

	if err := settings.Delete(ctx, "station.callsign"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := settings.Get(ctx, "station.callsign"); found {
		t.Fatalf("deleted key still present")
	}
}
