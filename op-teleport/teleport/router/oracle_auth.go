package router

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// SignatureLength is the size of one (r, s, v) signature in a packed bundle.
const SignatureLength = crypto.SignatureLength

// Minter mints teleports whose attestations have been verified.
type Minter interface {
	RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (Minted, error)
}

type OracleAuthConfig struct {
	Address   common.Address
	Owner     common.Address
	Signers   []common.Address
	Threshold uint64
	// CacheSize bounds the number of recovered signatures kept around.
	CacheSize int
}

type recoveryKey struct {
	digest common.Hash
	sig    [SignatureLength]byte
}

// OracleAuth mints a teleport ahead of its settlement, given enough oracle attestations.
type OracleAuth struct {
	log log.Logger
	m   Metrics
	cfg OracleAuthConfig
	*auth.Wards
	minter Minter

	mu        sync.RWMutex
	signers   map[common.Address]struct{}
	threshold uint64

	recovered *lru.Cache[recoveryKey, common.Address]
}

func NewOracleAuth(logger log.Logger, m Metrics, cfg OracleAuthConfig, minter Minter) (*OracleAuth, error) {
	if cfg.Threshold == 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", types.ErrInvalidThreshold)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	cache, err := lru.New[recoveryKey, common.Address](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature cache: %w", err)
	}
	a := &OracleAuth{
		log:       logger.New("oracle_auth", cfg.Address),
		m:         m,
		cfg:       cfg,
		Wards:     auth.NewWards(cfg.Owner),
		minter:    minter,
		signers:   make(map[common.Address]struct{}, len(cfg.Signers)),
		threshold: cfg.Threshold,
		recovered: cache,
	}
	for _, s := range cfg.Signers {
		a.signers[s] = struct{}{}
	}
	return a, nil
}

func (a *OracleAuth) Address() common.Address {
	return a.cfg.Address
}

// RequestMint verifies the packed signatures over the GUID and mints it.
// Only the receiver or the operator of the teleport may request the mint.
func (a *OracleAuth) RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID,
	signatures []byte, maxFeePct, operatorFee *uint256.Int) (Minted, error) {
	if caller != guid.Receiver.Address() && caller != guid.Operator.Address() {
		return Minted{}, fmt.Errorf("%w: %s", types.ErrNotOperator, caller)
	}
	if err := guid.Check(); err != nil {
		return Minted{}, err
	}
	err := a.Validate(guid, signatures)
	a.m.RecordSignatureCheck(err)
	if err != nil {
		return Minted{}, err
	}
	return a.minter.RequestMint(ctx, a.cfg.Address, guid, maxFeePct, operatorFee)
}

// Validate checks that at least threshold registered signers signed the GUID.
// Signers must appear in strictly ascending address order, which also rules out duplicates.
func (a *OracleAuth) Validate(guid *types.TeleportGUID, signatures []byte) error {
	if len(signatures)%SignatureLength != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of signatures", types.ErrInvalidSignature, len(signatures))
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	count := uint64(len(signatures) / SignatureLength)
	if count < a.threshold {
		return fmt.Errorf("%w: %d of %d signatures", types.ErrBelowThreshold, count, a.threshold)
	}
	digest := guid.SigningHash()
	var last common.Address
	for i := uint64(0); i < count; i++ {
		signer, err := a.recover(digest, signatures[i*SignatureLength:(i+1)*SignatureLength])
		if err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
		if i > 0 && bytes.Compare(signer[:], last[:]) <= 0 {
			return fmt.Errorf("%w: %s after %s", types.ErrDuplicateOrUnorderedSigner, signer, last)
		}
		if _, ok := a.signers[signer]; !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownSigner, signer)
		}
		last = signer
	}
	return nil
}

// recover returns the address that produced sig over digest. v may be 0/1 or 27/28.
func (a *OracleAuth) recover(digest common.Hash, sig []byte) (common.Address, error) {
	key := recoveryKey{digest: digest}
	copy(key.sig[:], sig)
	if addr, ok := a.recovered.Get(key); ok {
		return addr, nil
	}
	normalized := common.CopyBytes(sig)
	if v := normalized[crypto.RecoveryIDOffset]; v >= 27 {
		normalized[crypto.RecoveryIDOffset] = v - 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", types.ErrInvalidSignature, sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", types.ErrInvalidSignature, err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	a.recovered.Add(key, addr)
	return addr, nil
}

func (a *OracleAuth) AddSigners(caller common.Address, signers ...common.Address) error {
	if err := a.Check(caller); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range signers {
		a.signers[s] = struct{}{}
	}
	a.log.Info("Added signers", "signers", signers)
	return nil
}

func (a *OracleAuth) RemoveSigners(caller common.Address, signers ...common.Address) error {
	if err := a.Check(caller); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range signers {
		delete(a.signers, s)
	}
	a.log.Info("Removed signers", "signers", signers)
	return nil
}

func (a *OracleAuth) SetThreshold(caller common.Address, threshold uint64) error {
	if err := a.Check(caller); err != nil {
		return err
	}
	if threshold == 0 {
		return fmt.Errorf("%w: threshold must be positive", types.ErrInvalidThreshold)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threshold = threshold
	a.log.Info("Set threshold", "threshold", threshold)
	return nil
}

func (a *OracleAuth) Threshold() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threshold
}

func (a *OracleAuth) IsSigner(addr common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.signers[addr]
	return ok
}

// Signers lists the registered signers in ascending order.
func (a *OracleAuth) Signers() []common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]common.Address, 0, len(a.signers))
	for s := range a.signers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
