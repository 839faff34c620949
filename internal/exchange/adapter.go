// Package exchange holds the VenueAdapter capability interface and its
// two concrete implementations: a CLOB-style REST+WS adapter with HMAC
// request signing and an on-chain-settled EIP-712-signed adapter. Both normalize venue-specific
// wire formats into the shared pkg/types vocabulary so every other
// package only ever sees one venue shape.
package exchange

import (
	"context"

	"arbd/pkg/types"
)

// VenueAdapter is the capability interface every venue implementation
// satisfies: streaming order books and taker order placement. The
// execution engine and book cache depend only on this interface, never
// on a concrete adapter type.
type VenueAdapter interface {
	// Venue returns this adapter's venue identity.
	Venue() types.Venue

	// StreamBooks subscribes to the given markets and returns a channel
	// of normalized book snapshots. The channel closes when ctx is
	// cancelled or the connection is permanently lost.
	StreamBooks(ctx context.Context, marketRefs []string) (<-chan types.BookSnapshot, error)

	// PlaceTaker submits a taker order. A synchronous venue-side refusal
	// (balance, price band, halted market) is returned as a
	// *types.Rejection via errors.As, distinct from transport errors.
	PlaceTaker(ctx context.Context, intent types.OrderIntent) (types.OrderAck, error)

	// Cancel cancels a single still-open order by its venue order ID.
	// Returns types.Cancelled if the order was resting and is now gone,
	// or types.TooLate if the venue reports it already filled or already
	// cancelled — both mean there is nothing left resting, so callers
	// treat TooLate as an expected outcome, not a failure.
	Cancel(ctx context.Context, venueOrderID string) (types.CancelResult, error)

	// Fills returns the adapter's stream of fill reports across every
	// order this adapter has placed; callers demultiplex by OrderID.
	Fills(ctx context.Context) <-chan types.Fill

	// CancelAll cancels every open order on this venue — the shutdown
	// safety net. Unwind of a single hedge slot must never call this: it
	// would cancel every other concurrent pair's live orders on the same
	// venue too. Use Cancel for that.
	CancelAll(ctx context.Context) error
}
