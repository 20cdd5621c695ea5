package distance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "calibration.json")
	store := NewFileStore(path)

	cal := &Calibration{
		K:                 9225,
		TargetCm:          45,
		SampleIODPxMedian: 205,
		Timestamp:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.Save(cal); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a calibration")
	}
	if loaded.K != cal.K || loaded.SampleIODPxMedian != cal.SampleIODPxMedian {
		t.Errorf("loaded %+v, want %+v", loaded, cal)
	}
	if !loaded.Timestamp.Equal(cal.Timestamp) {
		t.Errorf("timestamp %v, want %v", loaded.Timestamp, cal.Timestamp)
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))

	cal, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cal != nil {
		t.Error("missing file should load as no calibration")
	}
}

func TestFileStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store := NewFileStore(path)

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear on missing file: %v", err)
	}

	if err := store.Save(&Calibration{K: 9225}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	cal, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cal != nil {
		t.Error("cleared store should load as no calibration")
	}
}

func TestFileStore_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	if err := os.WriteFile(path, []byte(`{"other.state":{"kept":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path)

	if err := store.Save(&Calibration{K: 9225}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["other.state"]; !ok {
		t.Error("unrelated keys should survive save and clear")
	}
}

func TestEstimator_LoadsPersistedCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store := NewFileStore(path)
	if err := store.Save(&Calibration{K: 9225, TargetCm: 45, SampleIODPxMedian: 205}); err != nil {
		t.Fatal(err)
	}

	e, err := NewEstimator(DefaultConfig(), store)
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	if !e.Calibrated() {
		t.Fatal("estimator should load the persisted calibration")
	}

	result := e.Estimate(205)
	if result.Bucket != BucketOK {
		t.Errorf("bucket = %v, want OK at the calibrated distance", result.Bucket)
	}
}
