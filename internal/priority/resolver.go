package priority

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
)

// Bid is a won auction slot as reported by the bidding ledger.
type Bid struct {
	Tier      string
	ExpiresAt time.Time
}

// Ledger is the read-only view of the auction/bidding ledger.
type Ledger interface {
	// ActivePriorityFor returns nil when the requester holds no winning bid.
	ActivePriorityFor(ctx context.Context, requesterID, slotKey string) (*Bid, error)
}

// Throttle flags requesters whose work must be deprioritized.
type Throttle interface {
	IsThrottled(ctx context.Context, requester domain.Requester) (bool, error)
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver turns throttle state and auction results into a PriorityLevel.
// Throttling outranks any bid; collaborator failures degrade to Normal.
type Resolver struct {
	ledger   Ledger
	throttle Throttle
	now      func() time.Time
	logger   zerolog.Logger
}

// NewResolver accepts nil collaborators; a missing ledger means no bids and a
// missing throttle means nobody is throttled.
func NewResolver(ledger Ledger, throttle Throttle, opts ...Option) *Resolver {
	r := &Resolver{
		ledger:   ledger,
		throttle: throttle,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, requester domain.Requester, auction *domain.AuctionContext) domain.PriorityLevel {
	if r.throttle != nil {
		throttled, err := r.throttle.IsThrottled(ctx, requester)
		if err != nil {
			r.logger.Warn().Err(err).Str("requester", requester.ID).Msg("throttle lookup failed")
		}
		if throttled {
			return domain.PriorityLow
		}
	}

	if r.ledger == nil || auction == nil || strings.TrimSpace(auction.SlotKey) == "" || requester.ID == "" {
		return domain.PriorityNormal
	}
	bid, err := r.ledger.ActivePriorityFor(ctx, requester.ID, auction.SlotKey)
	if err != nil {
		r.logger.Warn().Err(err).Str("requester", requester.ID).Str("slot", auction.SlotKey).Msg("bid lookup failed")
		return domain.PriorityNormal
	}
	if bid == nil || !bid.ExpiresAt.After(r.now()) {
		return domain.PriorityNormal
	}
	r.logger.Debug().Str("requester", requester.ID).Str("slot", auction.SlotKey).Str("tier", bid.Tier).Msg("winning bid")
	return domain.PriorityHigh
}
