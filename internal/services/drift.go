package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"
	"marketplace/internal/websocket"
)

const driftLockKey = "market:drift:lock"

var ErrSweepInProgress = errors.New("drift sweep already running")

type DriftListingStore interface {
	ListIDsByStatus(ctx context.Context, status models.ListingStatus) ([]string, error)
	GetForUpdate(ctx context.Context, tx store.Getter, listingID string) (models.Listing, error)
}

type DriftConfig struct {
	Interval   time.Duration
	MinPercent decimal.Decimal
	MaxPercent decimal.Decimal
	Floor      int64
}

type DriftDeps struct {
	TxRunner     db.TxRunner
	ListingStore DriftListingStore
	PriceStore   PriceStore
	Hub          MarketHub
	Redis        *redis.Client
	Logger       logrus.FieldLogger
	Config       DriftConfig
}

type PriceChange struct {
	ListingID string `json:"listing_id"`
	OldPrice  int64  `json:"old_price"`
	NewPrice  int64  `json:"new_price"`
}

// DriftEngine periodically nudges every active listing's price by a random
// percentage within the configured range, never below the floor.
type DriftEngine struct {
	txRunner     db.TxRunner
	listingStore DriftListingStore
	priceStore   PriceStore
	hub          MarketHub
	redis        *redis.Client
	logger       logrus.FieldLogger
	cfg          DriftConfig
	instanceID   string
	randFloat    func() float64

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDriftEngine(deps DriftDeps) *DriftEngine {
	cfg := deps.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Floor <= 0 {
		cfg.Floor = 10
	}
	if cfg.MaxPercent.LessThan(cfg.MinPercent) {
		cfg.MinPercent, cfg.MaxPercent = cfg.MaxPercent, cfg.MinPercent
	}
	return &DriftEngine{
		txRunner:     deps.TxRunner,
		listingStore: deps.ListingStore,
		priceStore:   deps.PriceStore,
		hub:          deps.Hub,
		redis:        deps.Redis,
		logger:       deps.Logger,
		cfg:          cfg,
		instanceID:   uuid.NewString(),
		randFloat:    rand.Float64,
	}
}

// Start launches the ticker loop. Calling Start on a running engine does nothing.
func (e *DriftEngine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)
	e.logger.WithField("interval", e.cfg.Interval.String()).Info("drift engine started")
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (e *DriftEngine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("drift engine stopped")
}

func (e *DriftEngine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.WithError(err).Warn("drift sweep failed")
			}
		}
	}
}

// RunOnce reprices every active listing once. A sweep that finds another
// sweep in progress returns ErrSweepInProgress without touching anything.
func (e *DriftEngine) RunOnce(ctx context.Context) ([]PriceChange, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Info("drift sweep skipped, previous sweep still running")
		return nil, ErrSweepInProgress
	}
	defer e.running.Store(false)

	if e.redis != nil {
		acquired, err := e.redis.SetNX(ctx, driftLockKey, e.instanceID, e.lockTTL()).Result()
		if err != nil {
			e.logger.WithError(err).Warn("drift lock unavailable, sweeping locally")
		} else if !acquired {
			e.logger.Debug("drift sweep owned by another instance")
			return nil, nil
		}
	}

	ids, err := e.listingStore.ListIDsByStatus(ctx, models.ListingActive)
	if err != nil {
		return nil, err
	}
	var changes []PriceChange
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		change, moved, err := e.reprice(ctx, id)
		if err != nil {
			e.logger.WithError(err).WithField("listing_id", id).Warn("drift reprice failed")
			continue
		}
		if !moved {
			continue
		}
		changes = append(changes, change)
		if e.hub != nil {
			e.hub.BroadcastMarket(websocket.MarketUpdate{
				ListingID: change.ListingID,
				OldPrice:  change.OldPrice,
				Price:     change.NewPrice,
				Source:    store.PriceSourceDrift,
			})
		}
	}
	e.logger.WithField("changed", len(changes)).Info("drift sweep finished")
	return changes, nil
}

// reprice holds the listing row lock, so a drift update and a buy on the same
// listing serialize.
func (e *DriftEngine) reprice(ctx context.Context, listingID string) (PriceChange, bool, error) {
	var change PriceChange
	var moved bool
	pct := e.drawPercent()
	err := e.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		moved = false
		listing, err := e.listingStore.GetForUpdate(ctx, tx, listingID)
		if err != nil {
			return notFound(err, "listing")
		}
		if listing.Status != models.ListingActive {
			return nil
		}
		next, err := DriftPrice(listing.Price, pct, e.cfg.Floor)
		if err != nil {
			return invalidInput(err)
		}
		if next == listing.Price {
			return nil
		}
		if _, err := e.priceStore.Apply(ctx, tx, listing.ID, listing.Price, next, store.PriceSourceDrift); err != nil {
			return err
		}
		change = PriceChange{ListingID: listing.ID, OldPrice: listing.Price, NewPrice: next}
		moved = true
		return nil
	})
	return change, moved, err
}

// drawPercent returns a uniform value in [MinPercent, MaxPercent].
func (e *DriftEngine) drawPercent() decimal.Decimal {
	span := e.cfg.MaxPercent.Sub(e.cfg.MinPercent)
	return e.cfg.MinPercent.Add(span.Mul(decimal.NewFromFloat(e.randFloat())))
}

func (e *DriftEngine) lockTTL() time.Duration {
	ttl := e.cfg.Interval / 2
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// DriftPrice applies a percentage move, rounds to whole units and clamps to
// floor. A move past the int64 range fails with money.ErrOverflow.
func DriftPrice(price int64, percent decimal.Decimal, floor int64) (int64, error) {
	factor := decimal.NewFromInt(1).Add(percent.Div(decimal.NewFromInt(100)))
	next, err := money.ScaleRound(price, factor)
	if err != nil {
		return 0, err
	}
	if next < floor {
		return floor, nil
	}
	return next, nil
}
