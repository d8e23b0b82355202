// Package exchange implements the Hyperliquid-style ExchangeGateway and
// StreamSubscriber: a resty-based REST client for the info/exchange
// endpoints and a gorilla/websocket client for the userEvents stream.
//
// Every mutating call is signed via Auth.SignAction (msgpack + keccak
// action hash, EIP-712 Agent typed-data signature) and POSTed as a
// {action, nonce, signature, vaultAddress} envelope. Info reads require no
// signature. Mutating calls are rate-limited via per-category TokenBuckets
// and retried on transient network failure; semantic rejections from the
// exchange are never retried.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hl-copytrader/internal/config"
	"hl-copytrader/pkg/types"
)

// Client is the ExchangeGateway implementation.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger

	metaMu   sync.Mutex
	metaIdx  map[string]int            // symbol -> wire asset index
	metaByID map[string]types.MetaAsset // symbol -> meta
}

// NewClient creates a REST client with rate limiting and retry, matching
// the teacher's resty configuration (timeout, retry count, retry-wait
// bounds, retry-on-error-or-5xx).
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Hyperliquid.APIURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		auth:     auth,
		rl:       NewRateLimiter(),
		dryRun:   cfg.Simulated.Enabled,
		logger:   logger,
		metaIdx:  make(map[string]int),
		metaByID: make(map[string]types.MetaAsset),
	}
}

// Meta fetches the asset universe, populating the per-symbol cache.
func (c *Client) Meta(ctx context.Context) (map[string]types.MetaAsset, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.MetaResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "meta"}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrNetworkTimeout, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: meta: status %d: %s", ErrNetworkTimeout, resp.StatusCode(), resp.String())
	}

	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	out := make(map[string]types.MetaAsset, len(result.Universe))
	for i, a := range result.Universe {
		out[a.Name] = a
		c.metaByID[a.Name] = a
		c.metaIdx[a.Name] = i
	}
	return out, nil
}

// AssetMeta returns AssetMeta for symbol, fetching meta() if not yet
// cached. metaMu guards only the cache maps and is not held across the
// fetch, so concurrent cache misses each call meta(); they are not
// collapsed into a single fetch. The fetch is idempotent, so the
// duplicates write the same entries.
func (c *Client) AssetMeta(ctx context.Context, symbol string) (types.AssetMeta, error) {
	c.metaMu.Lock()
	cached, ok := c.metaByID[symbol]
	idx := c.metaIdx[symbol]
	c.metaMu.Unlock()
	if ok {
		return assetMetaFrom(cached, idx), nil
	}

	if _, err := c.Meta(ctx); err != nil {
		return types.AssetMeta{}, err
	}

	c.metaMu.Lock()
	cached, ok = c.metaByID[symbol]
	idx = c.metaIdx[symbol]
	c.metaMu.Unlock()
	if !ok {
		return types.AssetMeta{}, fmt.Errorf("%w: unknown asset %s", ErrInvariant, symbol)
	}
	return assetMetaFrom(cached, idx), nil
}

func assetMetaFrom(a types.MetaAsset, index int) types.AssetMeta {
	maxLev := a.MaxLeverage
	if maxLev <= 0 {
		maxLev = legacyMaxLeverage(a.Name)
	}
	return types.AssetMeta{Symbol: a.Name, Index: index, SizeDecimals: a.SzDecimals, MaxLeverage: maxLev}
}

// legacyMaxLeverage is the fallback per-asset leverage table used when the
// exchange meta response doesn't carry maxLeverage for a symbol. Grounded
// on the original bot's hardcoded MAX_LEVERAGE_LIMITS table (SPEC_FULL.md
// §13).
func legacyMaxLeverage(symbol string) int {
	switch symbol {
	case "BTC", "ETH":
		return 50
	case "SOL", "MATIC", "ARB", "OP", "AVAX", "DOGE":
		return 20
	default:
		return 10
	}
}

// MidPrice fetches the current mid price for a symbol.
func (c *Client) MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var result map[string]string
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "allMids"}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: allMids: %v", ErrNetworkTimeout, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: allMids: status %d", ErrNetworkTimeout, resp.StatusCode())
	}

	raw, ok := result[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no mid price for %s", ErrInvariant, symbol)
	}
	return decimal.NewFromString(raw)
}

// Snapshot fetches clearinghouseState for an address and converts it into
// an AccountSnapshot.
func (c *Client) Snapshot(ctx context.Context, address string) (types.AccountSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.AccountSnapshot{}, err
	}

	var result types.ClearinghouseState
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "clearinghouseState", "user": address}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("%w: clearinghouseState: %v", ErrNetworkTimeout, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountSnapshot{}, fmt.Errorf("%w: clearinghouseState: status %d", ErrNetworkTimeout, resp.StatusCode())
	}

	snap := types.AccountSnapshot{
		Positions: make(map[string]types.Position),
		Orders:    make(map[int64]types.Order),
		Timestamp: time.Now(),
	}

	if v, err := decimal.NewFromString(result.MarginSummary.AccountValue); err == nil {
		snap.Equity = v
	}
	if v, err := decimal.NewFromString(result.Withdrawable); err == nil {
		snap.Balance = v
	} else {
		snap.Balance = snap.Equity
	}

	for _, p := range result.AssetPositions {
		szi, err := decimal.NewFromString(p.Position.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.Position.EntryPx)
		snap.Positions[p.Position.Coin] = types.Position{
			Symbol:      p.Position.Coin,
			SignedSize:  szi,
			EntryPrice:  entry,
			Leverage:    p.Position.Leverage.Value,
			LastUpdated: snap.Timestamp,
		}
	}

	orders, err := c.OpenOrders(ctx, address)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	for _, o := range orders {
		snap.Orders[o.OrderID] = o
	}

	return snap, nil
}

// OpenOrders fetches resting orders for an address.
func (c *Client) OpenOrders(ctx context.Context, address string) ([]types.Order, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []types.RawOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "openOrders", "user": address}).
		SetResult(&raw).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("%w: openOrders: %v", ErrNetworkTimeout, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: openOrders: status %d", ErrNetworkTimeout, resp.StatusCode())
	}

	out := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		sz, _ := decimal.NewFromString(o.Sz)
		limitPx, _ := decimal.NewFromString(o.LimitPx)
		triggerPx, _ := decimal.NewFromString(o.TriggerPx)
		side := types.BUY
		if o.Side == "A" {
			side = types.SELL
		}
		cond := types.TriggerCondition(o.TriggerCond)
		kind := types.ClassifyTriggerKind(o.OrderType, side, cond)
		out = append(out, types.Order{
			OrderID:          o.OID,
			Symbol:           o.Coin,
			Side:             side,
			Kind:             kind,
			Size:             sz,
			LimitPrice:       limitPx,
			TriggerPrice:     triggerPx,
			TriggerCondition: cond,
			ReduceOnly:       o.ReduceOnly,
		})
	}
	return out, nil
}

// SetLeverage submits an updateLeverage action.
func (c *Client) SetLeverage(ctx context.Context, meta types.AssetMeta, leverage int, isCross bool) error {
	action := types.UpdateLeverageAction{
		Type:     "updateLeverage",
		Asset:    meta.Index,
		IsCross:  isCross,
		Leverage: leverage,
	}
	_, err := c.submit(ctx, action)
	return err
}

// PlaceLimit places a resting limit order.
func (c *Client) PlaceLimit(ctx context.Context, meta types.AssetMeta, side types.Side, size, price decimal.Decimal, tif types.TimeInForce, reduceOnly bool) (types.OrderStatus, error) {
	order := types.OrderWire{
		Asset:      meta.Index,
		IsBuy:      side == types.BUY,
		Price:      formatPrice(price),
		Size:       formatSize(size, meta.SizeDecimals),
		ReduceOnly: reduceOnly,
		TIF:        types.TIFWire{Limit: &types.LimitSpec{TIF: string(tif)}},
	}
	return c.submitOrder(ctx, order)
}

// PlaceMarket places a market order, expressed as an IOC limit at
// mid * (1 ± slippage), per SPEC_FULL.md §4.1.
func (c *Client) PlaceMarket(ctx context.Context, meta types.AssetMeta, side types.Side, size decimal.Decimal, mid, slippagePct decimal.Decimal, reduceOnly bool) (types.OrderStatus, error) {
	px := slippagePrice(mid, side == types.BUY, slippagePct)
	order := types.OrderWire{
		Asset:      meta.Index,
		IsBuy:      side == types.BUY,
		Price:      formatPrice(px),
		Size:       formatSize(size, meta.SizeDecimals),
		ReduceOnly: reduceOnly,
		TIF:        types.TIFWire{Limit: &types.LimitSpec{TIF: string(types.TifIOC)}},
	}
	return c.submitOrder(ctx, order)
}

// PlaceTrigger places a TP/SL trigger order at the given aggressive limit
// price. The caller (the Sizer) derives limitPx from the trigger price at
// the fixed 5% trigger slippage, separate from PlaceMarket's configurable
// MaxSlippagePct.
func (c *Client) PlaceTrigger(ctx context.Context, meta types.AssetMeta, side types.Side, size, triggerPx, limitPx decimal.Decimal, tpsl types.TPSL, isMarket, reduceOnly bool) (types.OrderStatus, error) {
	order := types.OrderWire{
		Asset:      meta.Index,
		IsBuy:      side == types.BUY,
		Price:      formatPrice(limitPx),
		Size:       formatSize(size, meta.SizeDecimals),
		ReduceOnly: reduceOnly,
		TIF: types.TIFWire{Trigger: &types.TriggerSpec{
			IsMarket:  isMarket,
			TriggerPx: formatPrice(triggerPx),
			TPSL:      string(tpsl),
		}},
	}
	return c.submitOrder(ctx, order)
}

func (c *Client) submitOrder(ctx context.Context, order types.OrderWire) (types.OrderStatus, error) {
	action := types.OrderAction{
		Type:     "order",
		Orders:   []types.OrderWire{order},
		Grouping: "na",
	}
	statuses, err := c.submit(ctx, action)
	if err != nil {
		return types.OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return types.OrderStatus{}, fmt.Errorf("%w: empty statuses in response", ErrExchangeRejected)
	}
	st := statuses[0]
	if st.Error != "" {
		return st, &ExchangeRejection{Msg: st.Error}
	}
	return st, nil
}

// Cancel cancels a single resting order.
func (c *Client) Cancel(ctx context.Context, meta types.AssetMeta, orderID int64) error {
	action := types.CancelAction{
		Type:    "cancel",
		Cancels: []types.CancelWire{{Asset: meta.Index, OrderID: orderID}},
	}
	statuses, err := c.submit(ctx, action)
	if err != nil {
		return err
	}
	if len(statuses) > 0 && statuses[0].Error != "" {
		return &ExchangeRejection{Msg: statuses[0].Error}
	}
	return nil
}

// CancelAll cancels every order in the given list in a single cancel
// action. The exchange has no bare "cancel everything" action, so the
// caller supplies the full open-order list up front (typically from the
// last Snapshot).
func (c *Client) CancelAll(ctx context.Context, orders []types.Order) error {
	if len(orders) == 0 {
		return nil
	}

	c.metaMu.Lock()
	cancels := make([]types.CancelWire, 0, len(orders))
	for _, o := range orders {
		idx, ok := c.metaIdx[o.Symbol]
		if !ok {
			continue
		}
		cancels = append(cancels, types.CancelWire{Asset: idx, OrderID: o.OrderID})
	}
	c.metaMu.Unlock()

	if len(cancels) == 0 {
		return nil
	}
	action := types.CancelAction{Type: "cancel", Cancels: cancels}
	_, err := c.submit(ctx, action)
	return err
}

// submit signs and POSTs an action, retrying network errors up to 3 times
// with jittered backoff and never retrying a semantic rejection.
func (c *Client) submit(ctx context.Context, action any) ([]types.OrderStatus, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit action", "action", fmt.Sprintf("%+v", action))
		return []types.OrderStatus{{Resting: &types.RestingStatus{OrderID: time.Now().UnixNano()}}}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	nonce := time.Now().UnixMilli()
	envelope, err := c.auth.SignAction(action, nonce, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 300 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		var result types.ExchangeResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(envelope).
			SetResult(&result).
			Post("/exchange")
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("%w: status %d: %s", ErrNetworkTimeout, resp.StatusCode(), resp.String())
			continue
		}
		if resp.StatusCode() != http.StatusOK || result.Status != "ok" {
			return nil, fmt.Errorf("%w: %s", ErrExchangeRejected, resp.String())
		}
		if result.Response == nil {
			return nil, nil
		}
		return result.Response.Data.Statuses, nil
	}
	return nil, lastErr
}
