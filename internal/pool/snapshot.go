package pool

import (
	"os"
	"path/filepath"
	"time"

	"hedgebot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Snapshot captures balancing state that should survive restarts.
type Snapshot struct {
	Timestamp int64          `json:"timestamp"`
	Accounts  []AccountEntry `json:"accounts"`
}

// AccountEntry is a single account in a snapshot.
type AccountEntry struct {
	ID             string `json:"id"`
	TradeCount     uint64 `json:"tradeCount"`
	Disabled       bool   `json:"disabled,omitempty"`
	DisabledReason string `json:"disabledReason,omitempty"`
}

// Snapshot builds a snapshot in construction order.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]AccountEntry, 0, len(p.order))
	for _, id := range p.order {
		s := p.accounts[id]
		entries = append(entries, AccountEntry{
			ID:             id,
			TradeCount:     s.TradeCount,
			Disabled:       s.State == StateDisabled,
			DisabledReason: s.DisabledReason,
		})
	}
	return Snapshot{
		Timestamp: p.now().UTC().UnixNano(),
		Accounts:  entries,
	}
}

// Restore applies trade counters and disabled flags. Unknown ids are skipped.
func (p *Pool) Restore(snap Snapshot) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	applied := 0
	for _, entry := range snap.Accounts {
		s, ok := p.accounts[entry.ID]
		if !ok {
			logs.Warnf("pool: snapshot has unknown account %s", entry.ID)
			continue
		}
		s.TradeCount = entry.TradeCount
		if entry.Disabled && s.State == StateAvailable {
			s.State = StateDisabled
			s.DisabledReason = entry.DisabledReason
		}
		applied++
	}
	return applied
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal pool snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create snapshot dir %s", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(exception.ErrPoolInvalidSnapshot, err.Error())
	}
	if snap.Timestamp > time.Now().Add(time.Hour).UnixNano() {
		return Snapshot{}, errors.Wrapf(exception.ErrPoolInvalidSnapshot, "timestamp in the future: %d", snap.Timestamp)
	}
	return snap, nil
}
