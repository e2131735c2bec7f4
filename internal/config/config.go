// Package config loads the gateway's main Sentinel configuration document
// and merges it over built-in defaults. The second policy
// document — the Shield policy file — is intentionally NOT loaded here:
// pkg/sentinel.Shield owns that file's hot reload end to end (its own
// fsnotify watch keyed on mtime advancement), so this loader only needs
// to pass its path through. Uses the same defaults-then-overlay and
// fsnotify hot-reload pattern as the rest of the gateway's config
// surfaces, adapted to a single atomic.Pointer rather than a
// version-history file tree.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sentineldev/agentgate/pkg/logging"
)

// SentinelConfig is the main policy document: reliability tuning plus the
// sentinel detector sensitivities. Fields absent from the file on disk
// keep their Defaults() value, since reload unmarshals onto a fresh copy
// of Defaults() rather than a zero value.
type SentinelConfig struct {
	CacheCapacity             int           `json:"cacheCapacity"`
	CacheDefaultTTL           time.Duration `json:"cacheDefaultTTL"`
	CircuitFailureThreshold   int           `json:"circuitFailureThreshold"`
	CircuitOpenTimeout        time.Duration `json:"circuitOpenTimeout"`
	RetryMaxAttempts          int           `json:"retryMaxAttempts"`
	InjectionSensitivity      string        `json:"injectionSensitivity"`
	HallucinationSensitivity  string        `json:"hallucinationSensitivity"`
	JudgeEnabled              bool          `json:"judgeEnabled"`
	ShieldConfigPath          string        `json:"shieldConfigPath"`
}

// Defaults returns the baseline SentinelConfig before the file is applied.
func Defaults() SentinelConfig {
	return SentinelConfig{
		CacheCapacity:            1000,
		CacheDefaultTTL:          60 * time.Second,
		CircuitFailureThreshold:  5,
		CircuitOpenTimeout:       30 * time.Second,
		RetryMaxAttempts:         3,
		InjectionSensitivity:     "medium",
		HallucinationSensitivity: "medium",
		JudgeEnabled:             true,
	}
}

// Loader loads the main config JSON document over Defaults() and exposes
// the effective SentinelConfig via an atomic pointer that Watch keeps
// current as the file changes on disk.
type Loader struct {
	path   string
	logger logging.Logger

	current atomic.Pointer[SentinelConfig]

	watcher *fsnotify.Watcher
	stop    chan struct{}
	lastMod time.Time
}

// NewLoader builds a Loader and performs the initial load. path may be
// empty, in which case Defaults() always applies.
func NewLoader(path string, logger logging.Logger) (*Loader, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	l := &Loader{path: path, logger: logger, stop: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the effective, merged SentinelConfig.
func (l *Loader) Current() SentinelConfig {
	return *l.current.Load()
}

func (l *Loader) reload() error {
	cfg := Defaults()
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case os.IsNotExist(err):
			// no file yet: defaults stand
		case err != nil:
			return fmt.Errorf("config: reading %s: %w", l.path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("config: parsing %s: %w", l.path, err)
			}
		}
	}
	l.current.Store(&cfg)
	return nil
}

// Watch starts an fsnotify watch over the directory containing path and
// reloads on write/create events that advance the file's mtime —
// watching the directory survives editors that replace the file via
// rename rather than in-place write, mirroring ariadne's HotReloadSystem.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(l.path), err)
	}
	l.watcher = w
	go l.watchLoop()
	return nil
}

// Close stops the watch loop, if running.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.stop)
	return l.watcher.Close()
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			wantAbs, err := filepath.Abs(l.path)
			if err != nil || abs != wantAbs {
				continue
			}
			info, err := os.Stat(l.path)
			if err != nil || !info.ModTime().After(l.lastMod) {
				continue
			}
			l.lastMod = info.ModTime()
			if err := l.reload(); err != nil {
				l.logger.Warn("config: reload failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			l.logger.Info("config: reloaded", map[string]interface{}{"file": l.path})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config: watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
