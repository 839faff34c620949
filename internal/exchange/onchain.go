// onchain.go implements the on-chain-settled venue adapter: orders are
// EIP-712 typed-data signed with the trading wallet's key and posted to
// the venue's matching REST endpoint, which settles fills on-chain.
// Adapted from the teacher's auth.go (EIP-712 domain/types construction,
// V-byte normalization, PriceToAmounts scaling) — generalized from
// Polymarket's maker/taker token-amount order shape to this venue's
// market_ref + side shape, and from float64 price math to
// decimal.Decimal to avoid the teacher's float rounding surface.
package exchange

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbd/internal/config"
	"arbd/pkg/types"
)

// OnchainAdapter implements VenueAdapter against an on-chain-settled
// venue: EIP-712-signed taker orders, no standing API-key session.
type OnchainAdapter struct {
	venue         types.Venue
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int

	http   *resty.Client
	rl     *RateLimiter
	wsURL  string
	dryRun bool
	logger *slog.Logger

	fills chan types.Fill
}

// NewOnchainAdapter builds an on-chain adapter from one venue's
// configuration. Returns an error if the configured private key is
// malformed — unlike the CLOB adapter, there is nothing to lazily derive.
// When dryRun is true, PlaceTaker and CancelAll return fake success
// without signing or posting anything.
func NewOnchainAdapter(venue types.Venue, cfg config.VenueConfig, dryRun bool, logger *slog.Logger) (*OnchainAdapter, error) {
	keyHex := strings.TrimPrefix(cfg.PrivateKey, "0x")
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	funder := address
	if cfg.FunderAddress != "" {
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &OnchainAdapter{
		venue:         venue,
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(int64(cfg.ChainID)),
		http:          httpClient,
		rl:            NewRateLimiter(),
		wsURL:         cfg.WSURL,
		dryRun:        dryRun,
		logger:        logger.With("component", "exchange", "venue", venue, "kind", "onchain"),
		fills:         make(chan types.Fill, 256),
	}, nil
}

func (a *OnchainAdapter) Venue() types.Venue { return a.venue }

type onchainWireLevel [2]string // [price, size]

type onchainWireBook struct {
	Ref       string            `json:"ref"`
	Bids      []onchainWireLevel `json:"bids"`
	Asks      []onchainWireLevel `json:"asks"`
	Sequence  uint64            `json:"sequence"`
	Timestamp int64             `json:"timestamp"`
}

type onchainSubscribeMsg struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Refs    []string `json:"refs"`
}

func (a *OnchainAdapter) StreamBooks(ctx context.Context, marketRefs []string) (<-chan types.BookSnapshot, error) {
	stream := newBookStream(a.wsURL, marketRefs,
		func(refs []string) interface{} { return onchainSubscribeMsg{Type: "subscribe", Channel: "book", Refs: refs} },
		a.decodeBook,
		a.logger,
	)
	go stream.run(ctx)
	return stream.out, nil
}

func (a *OnchainAdapter) decodeBook(raw []byte) (types.BookSnapshot, bool) {
	var wire onchainWireBook
	if err := json.Unmarshal(raw, &wire); err != nil || wire.Ref == "" {
		return types.BookSnapshot{}, false
	}
	return types.BookSnapshot{
		MarketRef:  wire.Ref,
		ReceivedAt: time.Now(),
		VenueTS:    time.UnixMilli(wire.Timestamp),
		Bids:       decodeTupleLevels(wire.Bids),
		Asks:       decodeTupleLevels(wire.Asks),
		SequenceNo: wire.Sequence,
	}, true
}

func decodeTupleLevels(levels []onchainWireLevel) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, l := range levels {
		px, err := decimal.NewFromString(l[0])
		if err != nil {
			continue
		}
		sz, err := decimal.NewFromString(l[1])
		if err != nil {
			continue
		}
		out = append(out, types.Level{Price: px, Size: sz})
	}
	return out
}

type onchainSignedOrder struct {
	Maker       string `json:"maker"`
	Signer      string `json:"signer"`
	MarketRef   string `json:"market_ref"`
	Side        string `json:"side"`
	MakerAmount string `json:"maker_amount"`
	TakerAmount string `json:"taker_amount"`
	Expiration  string `json:"expiration"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

type onchainOrderPayload struct {
	Order onchainSignedOrder `json:"order"`
}

type onchainOrderResponse struct {
	OrderID  string `json:"order_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

func (a *OnchainAdapter) PlaceTaker(ctx context.Context, intent types.OrderIntent) (types.OrderAck, error) {
	if a.dryRun {
		a.logger.Info("dry-run: would place taker order", "market_ref", intent.MarketRef, "side", intent.Side)
		return types.OrderAck{IntentID: intent.IntentID, VenueOrderID: "dryrun-" + intent.IntentID, AcceptedAt: time.Now()}, nil
	}
	if err := a.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	makerAmt, takerAmt := priceToAmounts(intent.LimitPx, intent.Qty)
	expiration := intent.Deadline.Unix()
	nonce := time.Now().UnixNano()

	sig, err := a.signOrder(intent, makerAmt, takerAmt, expiration, nonce)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("sign order: %w", err)
	}

	payload := onchainOrderPayload{Order: onchainSignedOrder{
		Maker:       a.funderAddress.Hex(),
		Signer:      a.address.Hex(),
		MarketRef:   intent.MarketRef,
		Side:        sideWire(intent.Side),
		MakerAmount: makerAmt.String(),
		TakerAmount: takerAmt.String(),
		Expiration:  strconv.FormatInt(expiration, 10),
		Nonce:       strconv.FormatInt(nonce, 10),
		Signature:   sig,
	}}

	var result onchainOrderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || !result.Accepted {
		return types.OrderAck{}, types.Rejection{IntentID: intent.IntentID, Reason: result.Reason}
	}

	return types.OrderAck{IntentID: intent.IntentID, VenueOrderID: result.OrderID, AcceptedAt: time.Now()}, nil
}

// signOrder produces an EIP-712 signature over the order fields, proving
// the signer authorized spending makerAmount for takerAmount.
func (a *OnchainAdapter) signOrder(intent types.OrderIntent, makerAmt, takerAmt *big.Int, expiration, nonce int64) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:    "ArbVenueOrder",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
	}
	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"Order": {
			{Name: "maker", Type: "address"},
			{Name: "signer", Type: "address"},
			{Name: "marketRef", Type: "string"},
			{Name: "side", Type: "string"},
			{Name: "makerAmount", Type: "uint256"},
			{Name: "takerAmount", Type: "uint256"},
			{Name: "expiration", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	message := apitypes.TypedDataMessage{
		"maker":       a.funderAddress.Hex(),
		"signer":      a.address.Hex(),
		"marketRef":   intent.MarketRef,
		"side":        sideWire(intent.Side),
		"makerAmount": makerAmt.String(),
		"takerAmount": takerAmt.String(),
		"expiration":  strconv.FormatInt(expiration, 10),
		"nonce":       strconv.FormatInt(nonce, 10),
	}

	typedData := apitypes.TypedData{Types: typesDef, PrimaryType: "Order", Domain: domain, Message: message}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// priceToAmounts converts a [0,1] price and a contract quantity into
// USDC-scaled (6 decimal) maker/taker amounts for a buy order: makerAmount
// is the USDC paid in, takerAmount the contracts received.
func priceToAmounts(price, qty decimal.Decimal) (makerAmt, takerAmt *big.Int) {
	scale := decimal.NewFromInt(1_000_000)
	cost := price.Mul(qty).Mul(scale).Truncate(0)
	tokens := qty.Mul(scale).Truncate(0)
	return cost.BigInt(), tokens.BigInt()
}

type onchainCancelResponse struct {
	Canceled bool `json:"canceled"`
}

// Cancel cancels a single resting order by its venue order ID.
func (a *OnchainAdapter) Cancel(ctx context.Context, venueOrderID string) (types.CancelResult, error) {
	if a.dryRun {
		a.logger.Info("dry-run: would cancel order", "venue_order_id", venueOrderID)
		return types.Cancelled, nil
	}
	if err := a.rl.Cancel.Wait(ctx); err != nil {
		return types.TooLate, err
	}

	var result onchainCancelResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&result).
		Delete("/orders/" + venueOrderID)
	if err != nil {
		return types.TooLate, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.TooLate, fmt.Errorf("cancel order: status %d", resp.StatusCode())
	}
	if result.Canceled {
		return types.Cancelled, nil
	}
	return types.TooLate, nil
}

func (a *OnchainAdapter) Fills(ctx context.Context) <-chan types.Fill {
	return a.fills
}

func (a *OnchainAdapter) CancelAll(ctx context.Context) error {
	if a.dryRun {
		a.logger.Info("dry-run: would cancel all orders")
		return nil
	}
	if err := a.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	resp, err := a.http.R().SetContext(ctx).Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d", resp.StatusCode())
	}
	return nil
}
