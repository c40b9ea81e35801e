package ops

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// Runtime holds the latest successfully loaded config.
type Runtime struct {
	v atomic.Value
}

func NewRuntime(loaded Loaded) *Runtime {
	var rc Runtime
	rc.v.Store(loaded)
	return &rc
}

func (r *Runtime) Load() Loaded {
	return r.v.Load().(Loaded)
}

func (r *Runtime) Update(loaded Loaded) {
	r.v.Store(loaded)
}

// Watch reloads path whenever its modification time advances and passes every valid result to update.
// Invalid files are logged and skipped, keeping the previous config.
func Watch(ctx context.Context, path string, interval time.Duration, update func(Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat failed, err: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("config reload failed, err: %+v", err)
				continue
			}
			update(loaded)
			logs.Infof("config reloaded: %s", path)
		}
	}
}
