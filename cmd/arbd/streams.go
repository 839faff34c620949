package main

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"arbd/internal/exchange"
	"arbd/internal/market"
	"arbd/internal/registry"
	"arbd/pkg/types"
)

// resubscribeInterval is how often a bookStreamer re-derives each
// venue's active market set from the registry and restarts its
// subscription if it changed.
const resubscribeInterval = 10 * time.Second

// bookStreamer keeps one live StreamBooks subscription per venue,
// feeding every snapshot into the shared market.Cache. A pair going
// active or inactive changes what its two venues need to watch, so the
// subscription is periodically recomputed rather than opened once at
// startup.
type bookStreamer struct {
	reg      *registry.Registry
	cache    *market.Cache
	adapters map[types.Venue]exchange.VenueAdapter
	onUpdate func(marketRef string)
	logger   *slog.Logger
}

// newBookStreamer wires onUpdate to the signal engine's NotifyBook so
// every accepted book snapshot triggers an edge recompute instead of
// waiting for the engine's next backstop tick.
func newBookStreamer(reg *registry.Registry, cache *market.Cache, adapters map[types.Venue]exchange.VenueAdapter, onUpdate func(marketRef string), logger *slog.Logger) *bookStreamer {
	return &bookStreamer{
		reg:      reg,
		cache:    cache,
		adapters: adapters,
		onUpdate: onUpdate,
		logger:   logger.With("component", "book_streamer"),
	}
}

// run blocks until ctx is cancelled, maintaining every venue's
// subscription concurrently.
func (b *bookStreamer) run(ctx context.Context) {
	var wg sync.WaitGroup
	for venue, adapter := range b.adapters {
		wg.Add(1)
		go func(venue types.Venue, adapter exchange.VenueAdapter) {
			defer wg.Done()
			b.runVenue(ctx, venue, adapter)
		}(venue, adapter)
	}
	wg.Wait()
}

func (b *bookStreamer) runVenue(ctx context.Context, venue types.Venue, adapter exchange.VenueAdapter) {
	var subCancel context.CancelFunc
	var current []string
	defer func() {
		if subCancel != nil {
			subCancel()
		}
	}()

	resubscribe := func() {
		refs := marketRefsForVenue(b.reg.ActivePairs(), venue)
		if sameRefs(current, refs) {
			return
		}
		if subCancel != nil {
			subCancel()
			subCancel = nil
		}
		current = refs
		if len(refs) == 0 {
			return
		}

		subCtx, cancel := context.WithCancel(ctx)
		subCancel = cancel
		snaps, err := adapter.StreamBooks(subCtx, refs)
		if err != nil {
			b.logger.Error("subscribe book stream", "venue", venue, "error", err)
			current = nil
			cancel()
			subCancel = nil
			return
		}
		b.logger.Info("subscribed book stream", "venue", venue, "markets", len(refs))
		go b.consume(subCtx, venue, snaps)
	}

	resubscribe()

	ticker := time.NewTicker(resubscribeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resubscribe()
		}
	}
}

func (b *bookStreamer) consume(ctx context.Context, venue types.Venue, snaps <-chan types.BookSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				b.logger.Warn("book stream closed", "venue", venue)
				return
			}
			if b.cache.Apply(snap.MarketRef, snap) && b.onUpdate != nil {
				b.onUpdate(snap.MarketRef)
			}
		}
	}
}

// marketRefsForVenue lists every distinct market ref an active pair asks
// this venue to watch.
func marketRefsForVenue(pairs []types.Pair, venue types.Venue) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, p := range pairs {
		if !p.Active {
			continue
		}
		for _, m := range []types.Market{p.MarketA, p.MarketB} {
			if m.Venue != venue {
				continue
			}
			ref := m.Ref()
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	sort.Strings(refs)
	return refs
}

func sameRefs(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}
