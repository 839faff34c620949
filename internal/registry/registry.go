// Package registry holds the catalogue of active cross-venue pairs and the
// canonical fee/friction parameters, as published by an external matcher.
// Pairs and FeePacks are owned by the matcher; this package only ingests,
// validates, and exposes consistent copy-on-write snapshots to readers.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"arbd/pkg/types"
)

// snapshot is the immutable value swapped atomically on every ingest.
// Readers that grab one pointer see a consistent view for the duration of
// a single computation, per §4.2.
type snapshot struct {
	pairs     map[string]types.Pair
	feePacks  map[types.Venue]types.FeePack
}

// Registry is the Market Registry & Pair Store.
type Registry struct {
	snap atomic.Pointer[snapshot]

	acceptScore float64
	logger      *slog.Logger

	client       *resty.Client
	matcherURL   string
	pollInterval time.Duration
}

// New creates an empty registry. acceptScore is the configured
// llm_accept_score (default 0.92), read only at pair ingestion.
func New(acceptScore float64, logger *slog.Logger) *Registry {
	r := &Registry{
		acceptScore: acceptScore,
		logger:      logger.With("component", "registry"),
	}
	r.snap.Store(&snapshot{
		pairs:    make(map[string]types.Pair),
		feePacks: make(map[types.Venue]types.FeePack),
	})
	return r
}

// NewPolling creates a registry that additionally polls a matcher HTTP
// endpoint for pair and fee pack updates, mirroring the teacher's
// resty-based polling scanner but as passive ingestion rather than active
// discovery and ranking.
func NewPolling(acceptScore float64, matcherURL string, pollInterval time.Duration, logger *slog.Logger) *Registry {
	r := New(acceptScore, logger)
	r.client = resty.New().SetBaseURL(matcherURL).SetTimeout(10 * time.Second)
	r.matcherURL = matcherURL
	r.pollInterval = pollInterval
	return r
}

// matcherResponse is the wire shape the matcher endpoint is expected to
// return: the full current set of pairs and fee packs.
type matcherResponse struct {
	Pairs     []matcherPair    `json:"pairs"`
	FeePacks  []matcherFeePack `json:"fee_packs"`
}

type matcherPair struct {
	PairID          string  `json:"pair_id"`
	MarketAVenue    string  `json:"market_a_venue"`
	MarketAID       string  `json:"market_a_id"`
	MarketBVenue    string  `json:"market_b_venue"`
	MarketBID       string  `json:"market_b_id"`
	SimilarityScore float64 `json:"similarity_score"`
	RulesPassed     bool    `json:"rules_passed"`
	Active          bool    `json:"active"`
}

type matcherFeePack struct {
	Venue        string `json:"venue"`
	TakerBps     int    `json:"taker_bps"`
	MakerBps     int    `json:"maker_bps"`
	ProfitFeeBps int    `json:"profit_fee_bps"`
	RoundingRule string `json:"rounding_rule"`
	VersionHash  string `json:"version_hash"`
}

// Run polls the matcher endpoint on pollInterval until ctx is cancelled.
// Blocks; intended to be run in its own goroutine.
func (r *Registry) Run(ctx context.Context) error {
	if r.client == nil {
		return nil // registry was constructed with New, not NewPolling; nothing to poll
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Registry) poll(ctx context.Context) {
	resp, err := r.client.R().SetContext(ctx).Get("/pairs")
	if err != nil {
		r.logger.Warn("matcher poll failed", "error", err)
		return
	}
	if resp.IsError() {
		r.logger.Warn("matcher poll returned error status", "status", resp.StatusCode())
		return
	}

	var body matcherResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		r.logger.Error("unmarshal matcher response", "error", err)
		return
	}

	for _, fp := range body.FeePacks {
		r.IngestFeePack(types.FeePack{
			Venue:        types.Venue(fp.Venue),
			TakerBps:     fp.TakerBps,
			MakerBps:     fp.MakerBps,
			ProfitFeeBps: fp.ProfitFeeBps,
			RoundingRule: types.RoundingRule(fp.RoundingRule),
			VersionHash:  fp.VersionHash,
			PublishedAt:  time.Now(),
		})
	}
	for _, mp := range body.Pairs {
		r.IngestPair(types.Pair{
			PairID:          mp.PairID,
			MarketA:         types.Market{Venue: types.Venue(mp.MarketAVenue), MarketID: mp.MarketAID, Binary: true, Active: true},
			MarketB:         types.Market{Venue: types.Venue(mp.MarketBVenue), MarketID: mp.MarketBID, Binary: true, Active: true},
			SimilarityScore: mp.SimilarityScore,
			RulesPassed:     mp.RulesPassed,
			Active:          mp.Active,
		})
	}
}

// IngestPair validates and publishes a pair from the matcher. A pair that
// fails §3's invariants is logged and stored inactive rather than active,
// since the core must never see a Pair value claiming validity it lacks.
func (r *Registry) IngestPair(p types.Pair) {
	if !p.Valid(r.acceptScore) && p.Active {
		r.logger.Warn("refusing to activate pair failing validity predicates", "pair_id", p.PairID)
		p.Active = false
	}

	for {
		old := r.snap.Load()
		next := cloneSnapshot(old)
		next.pairs[p.PairID] = p
		if r.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// IngestFeePack publishes a new FeePack version for a venue.
func (r *Registry) IngestFeePack(fp types.FeePack) {
	for {
		old := r.snap.Load()
		next := cloneSnapshot(old)
		next.feePacks[fp.Venue] = fp
		if r.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetPairActive flips a pair's activation flag. Per the open question in
// the design notes, deactivation never cancels an in-flight hedge; it
// only prevents new admissions from this pair going forward.
func (r *Registry) SetPairActive(pairID string, active bool) {
	for {
		old := r.snap.Load()
		p, ok := old.pairs[pairID]
		if !ok {
			return
		}
		p.Active = active
		next := cloneSnapshot(old)
		next.pairs[pairID] = p
		if r.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// ActivePairs returns every pair currently flagged active, in a
// consistent immutable snapshot.
func (r *Registry) ActivePairs() []types.Pair {
	snap := r.snap.Load()
	out := make([]types.Pair, 0, len(snap.pairs))
	for _, p := range snap.pairs {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// Pair looks up a single pair by ID from the current snapshot.
func (r *Registry) Pair(pairID string) (types.Pair, bool) {
	snap := r.snap.Load()
	p, ok := snap.pairs[pairID]
	return p, ok
}

// FeePack returns the current FeePack for a venue, with its version_hash.
func (r *Registry) FeePack(venue types.Venue) (types.FeePack, bool) {
	snap := r.snap.Load()
	fp, ok := snap.feePacks[venue]
	return fp, ok
}

func cloneSnapshot(old *snapshot) *snapshot {
	next := &snapshot{
		pairs:    make(map[string]types.Pair, len(old.pairs)),
		feePacks: make(map[types.Venue]types.FeePack, len(old.feePacks)),
	}
	for k, v := range old.pairs {
		next.pairs[k] = v
	}
	for k, v := range old.feePacks {
		next.feePacks[k] = v
	}
	return next
}
