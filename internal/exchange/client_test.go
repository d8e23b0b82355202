package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"hl-copytrader/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun:   true,
		rl:       NewRateLimiter(),
		logger:   logger,
		metaIdx:  make(map[string]int),
		metaByID: make(map[string]types.MetaAsset),
	}
}

func testMeta() types.AssetMeta {
	return types.AssetMeta{Symbol: "ETH", Index: 1, SizeDecimals: 4, MaxLeverage: 50}
}

func TestDryRunPlaceLimit(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	status, err := c.PlaceLimit(context.Background(), testMeta(), types.BUY,
		decimal.NewFromFloat(1.5), decimal.NewFromFloat(3000), types.TifGTC, false)
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}
	if status.Resting == nil {
		t.Fatal("expected a resting status in dry-run")
	}
	if status.Error != "" {
		t.Fatalf("unexpected error status: %s", status.Error)
	}
}

func TestDryRunPlaceMarket(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	status, err := c.PlaceMarket(context.Background(), testMeta(), types.SELL,
		decimal.NewFromFloat(0.5), decimal.NewFromFloat(3000), decimal.NewFromFloat(2), true)
	if err != nil {
		t.Fatalf("PlaceMarket: %v", err)
	}
	if status.Resting == nil {
		t.Fatal("expected a resting status in dry-run")
	}
}

func TestDryRunPlaceTrigger(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	status, err := c.PlaceTrigger(context.Background(), testMeta(), types.SELL,
		decimal.NewFromFloat(1), decimal.NewFromFloat(2800), decimal.NewFromFloat(2660),
		types.SL, true, true)
	if err != nil {
		t.Fatalf("PlaceTrigger: %v", err)
	}
	if status.Resting == nil {
		t.Fatal("expected a resting status in dry-run")
	}
}

func TestDryRunCancel(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.Cancel(context.Background(), testMeta(), 42); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestDryRunCancelAllEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelAll(context.Background(), nil); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestCancelAllSkipsOrdersWithoutKnownMeta(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	orders := []types.Order{{OrderID: 1, Symbol: "UNKNOWN"}}
	if err := c.CancelAll(context.Background(), orders); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestAssetMetaAppliesLegacyLeverageFallback(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	c.metaByID["BTC"] = types.MetaAsset{Name: "BTC", SzDecimals: 5, MaxLeverage: 0}
	c.metaIdx["BTC"] = 0

	meta, err := c.AssetMeta(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("AssetMeta: %v", err)
	}
	if meta.MaxLeverage != 50 {
		t.Fatalf("MaxLeverage = %d, want 50 (legacy BTC fallback)", meta.MaxLeverage)
	}
	if meta.Index != 0 {
		t.Fatalf("Index = %d, want 0", meta.Index)
	}
}

func TestAssetMetaUsesCachedIndex(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	c.metaByID["ETH"] = types.MetaAsset{Name: "ETH", SzDecimals: 4, MaxLeverage: 50}
	c.metaIdx["ETH"] = 1

	meta, err := c.AssetMeta(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("AssetMeta: %v", err)
	}
	if meta.Symbol != "ETH" || meta.Index != 1 {
		t.Fatalf("meta = %+v, want Symbol=ETH Index=1", meta)
	}
}
