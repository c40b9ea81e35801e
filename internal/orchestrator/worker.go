package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"hedgebot/internal/model"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

func (o *Orchestrator) worker(ctx context.Context, id int) {
	logs.Infof("worker %d started", id)
	defer logs.Infof("worker %d stopped", id)

	for {
		task, err := o.queue.Next(ctx, o.cfg.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, exception.ErrQueueTimeout):
			continue
		case errors.Is(err, exception.ErrQueueClosed):
			return
		default:
			return
		}

		o.process(ctx, id, task)
		if err := o.queue.Done(); err != nil {
			logs.Errorf("worker %d mark task %s done, err: %+v", id, task.ID, err)
		}
	}
}

// process trades one task end to end and releases its accounts exactly once.
func (o *Orchestrator) process(ctx context.Context, worker int, task model.Task) {
	start := o.now()
	res := model.Result{Task: task, Worker: worker, PnL: decimal.Zero, Notional: decimal.Zero}
	released := false
	release := func(cooldown bool) {
		if released {
			return
		}
		released = true
		if cooldown {
			o.pool.ReleaseWithCooldown(task.Accounts, o.cooldown())
			return
		}
		o.pool.ReleaseImmediately(task.Accounts)
	}

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("worker %d panic on task %s: %v", worker, task.ID, r)
			res.Success = false
			res.Err = fmt.Sprint(r)
			release(false)
		}
		res.Duration = o.now().Sub(start)
		res.Finished = o.now()
		o.metrics.ObserveTask(worker, res.Success, res.Duration)
		o.emit(ctx, res)
	}()

	res.Seq = o.seq.Next()
	batch, err := o.exec.Compose(task, res.Seq)
	if err != nil {
		release(false)
		o.reportErrors(task.Accounts)
		res.Err = err.Error()
		logs.Errorf("worker %d compose task %s, err: %+v", worker, task.ID, err)
		return
	}

	logs.Infof("worker %d executing task %s #%d, market: %s, longs: %v, shorts: %v", worker, task.ID, res.Seq, batch.Market, batch.Longs, batch.Shorts)
	out, err := o.exec.Execute(ctx, batch)
	res.Opened, res.Closed, res.Attempts = out.Opened, out.Closed, out.Attempts
	res.PnL, res.Notional, res.Via = out.PnL, out.Notional, out.Via

	switch {
	case err == nil:
		res.Success = true
		release(true)
		o.reportSuccess(task.Accounts)
		logs.Infof("worker %d task %s succeeded, pnl: %s", worker, task.ID, out.PnL.StringFixed(2))
	case ctx.Err() != nil:
		res.Cancelled = true
		res.Err = err.Error()
		release(false)
		logs.Warnf("worker %d task %s cancelled, accounts released", worker, task.ID)
	default:
		res.Err = err.Error()
		release(false)
		o.reportErrors(task.Accounts)
		logs.Errorf("worker %d task %s failed, err: %+v", worker, task.ID, err)
	}
}

func (o *Orchestrator) reportErrors(accounts []string) {
	if !o.cfg.Balanced {
		return
	}
	for _, a := range accounts {
		o.pool.ReportError(a)
	}
}

func (o *Orchestrator) reportSuccess(accounts []string) {
	if !o.cfg.Balanced {
		return
	}
	for _, a := range accounts {
		o.pool.ReportSuccess(a)
	}
}

func (o *Orchestrator) emit(ctx context.Context, res model.Result) {
	if len(o.sinks) != 0 {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SinkTimeout)
		for _, s := range o.sinks {
			if err := s.RecordResult(sinkCtx, res); err != nil {
				logs.Warnf("record result of task %s, err: %+v", res.Task.ID, err)
			}
		}
		cancel()
	}
	select {
	case o.results <- res:
	default:
		logs.Debugf("result stream full, drop task %s", res.Task.ID)
	}
}
