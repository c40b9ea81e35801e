package trader

import (
	"context"

	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"

	"github.com/yanun0323/logs"
)

// placeStopLosses registers a native stop per open position and returns the number of failures.
func (t *Trader) placeStopLosses(ctx context.Context, b model.Batch, accounts []string) int {
	failed := 0
	for i, account := range accounts {
		if i > 0 {
			if err := t.sleep(ctx, t.cfg.StopLossDelay); err != nil {
				return failed + len(accounts) - i
			}
		}
		pos, found, err := t.position(ctx, account, b.Market)
		if err != nil || !found {
			logs.Warnf("skip native stop for %s on %s, found: %t, err: %v", account, b.Market, found, err)
			continue
		}
		req, ok := t.risk.StopLossRequest(pos)
		if !ok {
			logs.Warnf("skip native stop for %s, entry: %s, leverage: %s", account, pos.EntryPrice, pos.Leverage)
			continue
		}
		err = t.client.PlaceStopLoss(ctx, account, req)
		t.recordOrder(ctx, b, account, "", pos.Side.CloseSide(), enum.OrderModeMarket, model.OrderPurposeStopLoss, req.Size, req.TriggerPrice, err)
		if err != nil {
			failed++
			t.metrics.IncNativeStopFail()
			logs.Errorf("place native stop for %s at %s, err: %+v", account, req.TriggerPrice, err)
			continue
		}
		logs.Infof("native stop for %s %s placed at %s", account, pos.Side, req.TriggerPrice)
	}
	return failed
}
