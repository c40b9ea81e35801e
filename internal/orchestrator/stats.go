package orchestrator

import (
	"context"
	"time"

	"hedgebot/internal/obs"
	"hedgebot/internal/pool"

	"github.com/yanun0323/logs"
)

// Stats is a point-in-time view of the engine.
type Stats struct {
	Pool       pool.Stats
	QueueDepth int
	QueueCap   int
	Unfinished int
	Generated  uint64
	Sequence   uint64
	Metrics    obs.Snapshot
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Pool:       o.pool.Stats(),
		QueueDepth: o.queue.Len(),
		QueueCap:   o.queue.Cap(),
		Unfinished: o.queue.Unfinished(),
		Generated:  o.gen.Generated(),
		Sequence:   o.seq.Current(),
		Metrics:    o.metrics.Snapshot(),
	}
}

func (o *Orchestrator) statsLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(o.StatsInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-o.statsWake:
			timer.Stop()
		case <-timer.C:
			o.logStats("periodic", o.Stats())
		}
	}
}

func (o *Orchestrator) logStats(kind string, s Stats) {
	logs.Infof("%s stats: accounts %d available, %d in trade, %d cooldown, %d disabled, utilization %.1f%%",
		kind, s.Pool.Available, s.Pool.InTrade, s.Pool.Cooldown, s.Pool.Disabled, s.Pool.Utilization)
	logs.Infof("%s stats: queue %d/%d, generated %d, skipped full %d, skipped no accounts %d",
		kind, s.QueueDepth, s.QueueCap, s.Generated, s.Metrics.SkippedQueueFull, s.Metrics.SkippedNoAccounts)
	processed, success, failed := s.Metrics.Totals()
	logs.Infof("%s stats: processed %d, success %d, failed %d, avg task %s", kind, processed, success, failed, s.Metrics.TaskLatency.Avg)
	for _, w := range s.Metrics.Workers {
		logs.Infof("%s stats: worker %d processed %d, success %d, failed %d", kind, w.ID, w.Processed, w.Success, w.Failed)
	}
}
