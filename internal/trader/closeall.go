package trader

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"hedgebot/internal/exchange"
	"hedgebot/internal/model"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

const closeAllTaskID = "close_all"

// CloseAllReport summarizes a shutdown sweep.
type CloseAllReport struct {
	Rounds         int
	Found          int
	Closed         int
	Failed         int
	CancelFailures int
}

// CloseAll repeatedly scans accounts for open positions on any market and closes them,
// then mass-cancels every account.
func (t *Trader) CloseAll(ctx context.Context, accounts []string) CloseAllReport {
	report := CloseAllReport{}
	for round := 1; round <= t.cfg.CloseAllRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		report.Rounds = round
		found := t.scanPositions(ctx, accounts)
		if len(found) == 0 {
			break
		}
		report.Found += len(found)
		logs.Warnf("close all round %d/%d: %d open positions", round, t.cfg.CloseAllRounds, len(found))

		for _, r := range t.closePositions(ctx, found) {
			if r.Closed {
				report.Closed++
			} else {
				report.Failed++
			}
		}
	}
	report.CancelFailures = t.MassCancelAll(ctx, accounts)
	logs.Infof("close all done, rounds: %d, found: %d, closed: %d, failed: %d", report.Rounds, report.Found, report.Closed, report.Failed)
	return report
}

// scanPositions fetches the open positions of all accounts concurrently.
func (t *Trader) scanPositions(ctx context.Context, accounts []string) []exchange.Position {
	var (
		mu    sync.Mutex
		found []exchange.Position
		g     errgroup.Group
	)
	for _, account := range accounts {
		g.Go(func() error {
			positions, err := t.client.Positions(ctx, account, "")
			if err != nil {
				logs.Warnf("scan positions of %s, err: %+v", account, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range positions {
				if p.IsOpen() {
					p.Account = account
					found = append(found, p)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(found, func(i, j int) bool {
		if found[i].Account != found[j].Account {
			return found[i].Account < found[j].Account
		}
		return found[i].Market < found[j].Market
	})
	return found
}

func (t *Trader) closePositions(ctx context.Context, positions []exchange.Position) []closeResult {
	results := make([]closeResult, len(positions))
	var g errgroup.Group
	for i, p := range positions {
		if i > 0 {
			if err := t.sleep(ctx, t.rnd.duration(t.cfg.BetweenAccounts)); err != nil {
				for j := i; j < len(positions); j++ {
					results[j] = closeResult{Account: positions[j].Account, Market: positions[j].Market, Err: err}
				}
				break
			}
		}
		g.Go(func() error {
			b := model.Batch{TaskID: closeAllTaskID, Market: p.Market}
			results[i] = t.closeAccount(ctx, b, p.Account)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// MassCancelAll cancels every resting order of every account and returns the failure count.
func (t *Trader) MassCancelAll(ctx context.Context, accounts []string) int {
	var (
		failed atomic.Int64
		g      errgroup.Group
	)
	for _, account := range accounts {
		g.Go(func() error {
			if err := t.client.MassCancel(ctx, account); err != nil {
				failed.Add(1)
				logs.Warnf("mass cancel %s, err: %+v", account, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}
