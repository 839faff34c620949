package risk

import "errors"

// Rejection reasons correspond 1:1 to the eight hard admission
// predicates, in evaluation order. Admit returns the first one that
// fails and stops checking the rest.
var (
	ErrEdgeBelowMinimum      = errors.New("net_edge_below_minimum")
	ErrStaleOrVenueDown      = errors.New("stale_feed_or_venue_down")
	ErrPairAlreadyHedging    = errors.New("pair_already_hedging")
	ErrGlobalPairsCapReached = errors.New("global_pairs_cap_reached")
	ErrVenueCapExceeded      = errors.New("venue_notional_cap_exceeded")
	ErrContractCapExceeded   = errors.New("contract_notional_cap_exceeded")
	ErrDrawdownStopTripped   = errors.New("drawdown_stop_tripped")
	ErrHedgeProbabilityLow   = errors.New("hedge_probability_below_threshold")
)
