package config

import (
	"fmt"
	"strings"
	"sync"

	"custos/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LimitOverrides are the risk thresholds an operator may tune at runtime
// without restarting the service. Zero values mean "no override".
type LimitOverrides struct {
	MaxDailyLoss         float64 `toml:"max_daily_loss"`
	SlippageThresholdBps float64 `toml:"slippage_threshold_bps"`
	RejectRateThreshold  float64 `toml:"reject_rate_threshold"`
	MaxLeverage          float64 `toml:"max_leverage"`
}

type LimitListener func(LimitOverrides)

// LimitWatcher reloads the overrides file on FS events and fans the new
// snapshot out to registered listeners.
type LimitWatcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  LimitOverrides
	listeners []LimitListener
}

func NewLimitWatcher(path string) (*LimitWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("limit watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read limit overrides failed: %w", err)
	}
	w := &LimitWatcher{path: path, v: v}
	if err := w.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("limit overrides reload failed (%s): %v", evt.Name, err)
			return
		}
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

func (w *LimitWatcher) reload() error {
	var next LimitOverrides
	if err := w.v.Unmarshal(&next, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parse limit overrides failed: %w", err)
	}
	w.mu.Lock()
	w.snapshot = next
	w.mu.Unlock()
	logger.Infof("limit overrides loaded from %s", w.path)
	return nil
}

// Snapshot returns the current overrides.
func (w *LimitWatcher) Snapshot() LimitOverrides {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (w *LimitWatcher) Subscribe(fn LimitListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	snap := w.snapshot
	w.mu.Unlock()
	fn(snap)
}

func (w *LimitWatcher) notify() {
	w.mu.RLock()
	listeners := make([]LimitListener, len(w.listeners))
	copy(listeners, w.listeners)
	snap := w.snapshot
	w.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
