package orchestrator

import (
	"context"
	"errors"

	"hedgebot/internal/trader"

	"github.com/yanun0323/logs"
)

// ShutdownReport describes what each shutdown step achieved.
type ShutdownReport struct {
	// Remaining is the unfinished task count when the drain timed out.
	Remaining int
	// Discarded tasks were still queued after the workers stopped; their accounts were released.
	Discarded      int
	WorkersStopped bool
	ClosePositions bool
	CloseAll       trader.CloseAllReport
	CancelFailures int
	Final          Stats
}

// Shutdown stops generation, drains the queue, stops the workers and the stats loop,
// closes positions or cancels orders on every account, and logs final stats.
// Only the first call does any work; later calls return the first report.
func (o *Orchestrator) Shutdown(ctx context.Context, closePositions bool) ShutdownReport {
	o.shutdownOnce.Do(func() {
		o.report = o.shutdown(ctx, closePositions)
	})
	return o.report
}

func (o *Orchestrator) shutdown(ctx context.Context, closePositions bool) ShutdownReport {
	report := ShutdownReport{ClosePositions: closePositions}
	logs.Infof("shutdown started, close positions: %t", closePositions)

	o.gen.Stop()

	drainCtx, cancel := context.WithTimeout(ctx, o.cfg.DrainTimeout)
	err := o.queue.Wait(drainCtx)
	cancel()
	if err != nil {
		report.Remaining = o.queue.Unfinished()
		if errors.Is(err, context.DeadlineExceeded) {
			logs.Warnf("queue drain timed out after %s, remaining: %d", o.cfg.DrainTimeout, report.Remaining)
		} else {
			logs.Warnf("queue drain interrupted, remaining: %d, err: %v", report.Remaining, err)
		}
	}

	o.queue.Close()
	o.mu.Lock()
	stopWorkers, stopStats := o.stopWorkers, o.stopStats
	o.mu.Unlock()
	if stopWorkers != nil {
		stopWorkers()
	}
	report.WorkersStopped = o.waitWorkers(ctx)
	if report.WorkersStopped {
		o.closeResults()
	} else {
		logs.Errorf("workers did not stop before shutdown deadline")
	}
	for _, task := range o.queue.Drain() {
		o.pool.ReleaseImmediately(task.Accounts)
		report.Discarded++
	}
	if report.Discarded > 0 {
		logs.Warnf("discarded %d queued tasks", report.Discarded)
	}

	if stopStats != nil {
		stopStats()
	}

	accounts := o.pool.Accounts()
	if closePositions {
		report.CloseAll = o.exec.CloseAll(ctx, accounts)
		if report.CloseAll.Failed > 0 {
			logs.Errorf("close all left %d positions open", report.CloseAll.Failed)
		}
	} else {
		report.CancelFailures = o.exec.MassCancelAll(ctx, accounts)
		if report.CancelFailures > 0 {
			logs.Errorf("mass cancel failed on %d accounts", report.CancelFailures)
		}
	}

	report.Final = o.Stats()
	o.logStats("final", report.Final)
	logs.Info("shutdown completed")
	return report
}

func (o *Orchestrator) waitWorkers(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
