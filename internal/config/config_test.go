package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoaderDefaultsWithNoFile checks a Loader with an empty path always
// serves Defaults().
func TestLoaderDefaultsWithNoFile(t *testing.T) {
	l, err := NewLoader("", nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	got := l.Current()
	want := Defaults()
	if got != want {
		t.Fatalf("Current() = %+v, want Defaults() %+v", got, want)
	}
}

// TestLoaderMergesPartialFileOverDefaults checks fields present in the
// file on disk override Defaults(), while absent fields keep their
// default values rather than zeroing out.
func TestLoaderMergesPartialFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.json")
	body, _ := json.Marshal(map[string]interface{}{
		"circuitFailureThreshold": 9,
		"injectionSensitivity":    "high",
	})
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg := l.Current()
	if cfg.CircuitFailureThreshold != 9 {
		t.Errorf("CircuitFailureThreshold = %d, want 9 (overlay)", cfg.CircuitFailureThreshold)
	}
	if cfg.InjectionSensitivity != "high" {
		t.Errorf("InjectionSensitivity = %q, want %q (overlay)", cfg.InjectionSensitivity, "high")
	}
	if cfg.CacheCapacity != Defaults().CacheCapacity {
		t.Errorf("CacheCapacity = %d, want default %d for a field absent from the file", cfg.CacheCapacity, Defaults().CacheCapacity)
	}
}

// TestLoaderMissingFileFallsBackToDefaults checks a configured path that
// does not yet exist on disk is not an error.
func TestLoaderMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")
	l, err := NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if l.Current() != Defaults() {
		t.Fatal("expected defaults when the configured file does not exist yet")
	}
}

// TestLoaderRejectsMalformedJSON checks a file that fails to parse
// surfaces an error from NewLoader rather than silently falling back.
func TestLoaderRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewLoader(path, nil); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

// TestLoaderWatchReloadsOnFileChange checks Watch picks up an on-disk
// change and updates Current() without requiring a fresh Loader.
func TestLoaderWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.json")
	initial, _ := json.Marshal(map[string]interface{}{"retryMaxAttempts": 3})
	if err := os.WriteFile(path, initial, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer l.Close()

	// Ensure the rewritten file gets a strictly later mtime than the
	// loader's recorded lastMod so the watch loop's mtime gate admits it.
	time.Sleep(10 * time.Millisecond)
	updated, _ := json.Marshal(map[string]interface{}{"retryMaxAttempts": 7})
	if err := os.WriteFile(path, updated, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Current().RetryMaxAttempts == 7 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("RetryMaxAttempts = %d after waiting for reload, want 7", l.Current().RetryMaxAttempts)
}
