package oracle

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type ClientConfig struct {
	// Endpoint is the base URL of the attestation server.
	Endpoint string
	// RequestsPerSecond paces the polling of the server.
	RequestsPerSecond float64
	MaxAttempts       int
	Timeout           time.Duration
}

// Client collects attestations for a teleport until enough oracles agree on it.
type Client struct {
	log         log.Logger
	http        *resty.Client
	limiter     *rate.Limiter
	maxAttempts int
}

func NewClient(logger log.Logger, cfg ClientConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	httpClient := resty.New().SetBaseURL(cfg.Endpoint)
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}
	return &Client{
		log:         logger,
		http:        httpClient,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: attempts,
	}
}

// Fetch makes one query for the attestations of the event with the given reference.
func (c *Client) Fetch(ctx context.Context, ref common.Hash) ([]Attestation, error) {
	var out []Attestation
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"type": QueryTypeTeleport, "index": ref.Hex()}).
		SetResult(&out).
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("attestation query failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("attestation query failed with status %d: %s", resp.StatusCode(), bytes.TrimSpace(resp.Body()))
	}
	return out, nil
}

// Collect polls the server until threshold of the given signers signed the same GUID for the event.
// It returns that GUID and exactly threshold signatures packed for the oracle auth.
func (c *Client) Collect(ctx context.Context, ref common.Hash, signers []common.Address, threshold int) (*types.TeleportGUID, []byte, error) {
	if threshold <= 0 {
		return nil, nil, types.ErrInvalidThreshold
	}
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		atts, err := c.Fetch(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			c.log.Warn("Failed to fetch attestations", "ref", ref, "attempt", attempt, "err", err)
			lastErr = err
			continue
		}
		guid, sigs := Agree(atts, signers, threshold)
		if guid != nil {
			return guid, PackSignatures(sigs), nil
		}
		lastErr = fmt.Errorf("%w: have %d attestations, need %d", types.ErrBelowThreshold, len(atts), threshold)
		c.log.Debug("Waiting for attestations", "ref", ref, "attempt", attempt, "have", len(atts), "threshold", threshold)
	}
	return nil, nil, lastErr
}

// Agree groups valid signatures of the given signers by the GUID they sign, and returns the first
// GUID with at least threshold distinct signers, with the threshold signatures of the lowest signer
// addresses. Signatures of other signers, or that do not recover to their claimed signer, are ignored.
func Agree(atts []Attestation, signers []common.Address, threshold int) (*types.TeleportGUID, []Signature) {
	type group struct {
		guid *types.TeleportGUID
		sigs map[common.Address]Signature
	}
	registered := make(map[common.Address]struct{}, len(signers))
	for _, s := range signers {
		registered[s] = struct{}{}
	}
	groups := make(map[common.Hash]*group)
	var order []common.Hash
	for _, att := range atts {
		guid := att.Data.GUID
		if guid == nil || guid.Check() != nil {
			continue
		}
		sig, ok := att.Signatures[ChainEthereum]
		if !ok {
			continue
		}
		if _, ok := registered[sig.Signer]; !ok || !verify(guid, sig) {
			continue
		}
		h := guid.Hash()
		g, ok := groups[h]
		if !ok {
			g = &group{guid: guid, sigs: make(map[common.Address]Signature)}
			groups[h] = g
			order = append(order, h)
		}
		g.sigs[sig.Signer] = sig
	}
	for _, h := range order {
		g := groups[h]
		if threshold <= 0 || len(g.sigs) < threshold {
			continue
		}
		out := make([]Signature, 0, len(g.sigs))
		for _, s := range g.sigs {
			out = append(out, s)
		}
		sortBySigner(out)
		return g.guid, out[:threshold]
	}
	return nil, nil
}

// PackSignatures orders the signatures by ascending signer address and concatenates them.
func PackSignatures(sigs []Signature) []byte {
	sorted := make([]Signature, len(sigs))
	copy(sorted, sigs)
	sortBySigner(sorted)
	out := make([]byte, 0, len(sorted)*crypto.SignatureLength)
	for _, s := range sorted {
		out = append(out, s.Signature...)
	}
	return out
}

func sortBySigner(sigs []Signature) {
	sort.Slice(sigs, func(i, j int) bool {
		return bytes.Compare(sigs[i].Signer[:], sigs[j].Signer[:]) < 0
	})
}

func verify(guid *types.TeleportGUID, sig Signature) bool {
	if len(sig.Signature) != crypto.SignatureLength {
		return false
	}
	raw := make([]byte, crypto.SignatureLength)
	copy(raw, sig.Signature)
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(guid.SigningHash().Bytes(), raw)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == sig.Signer
}
