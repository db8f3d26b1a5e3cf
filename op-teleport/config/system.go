package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Loader specifies how to load the system config
type Loader interface {
	Load(ctx context.Context) (*SystemConfig, error)
}

const (
	FeeKindZero   = "zero"
	FeeKindLinear = "linear"
)

type FeeConfig struct {
	// Kind is "zero" or "linear". Empty means zero.
	Kind string `yaml:"kind,omitempty"`
	// Fraction of the amount charged, in WAD (1e18 is 100%).
	Fraction *uint256.Int `yaml:"fraction,omitempty"`
	// TTL after initiation, past which no fee is charged.
	TTL time.Duration `yaml:"ttl,omitempty"`
}

func (f *FeeConfig) Check() error {
	switch f.Kind {
	case "", FeeKindZero:
		return nil
	case FeeKindLinear:
		if f.Fraction == nil {
			return errors.New("linear fee needs a fraction")
		}
		if f.Fraction.Gt(router.WAD) {
			return fmt.Errorf("fee fraction %v exceeds 100%%", f.Fraction)
		}
		if f.TTL <= 0 {
			return errors.New("linear fee needs a positive ttl")
		}
		return nil
	default:
		return fmt.Errorf("unknown fee kind %q", f.Kind)
	}
}

// Calculator returns the fee calculator the config describes.
func (f *FeeConfig) Calculator() router.FeeCalculator {
	if f.Kind == FeeKindLinear {
		return router.LinearFee{Fraction: f.Fraction.Clone(), TTL: f.TTL}
	}
	return router.ZeroFee{}
}

// SettlementConfig describes the settlement domain, where the join, router and escrow live.
type SettlementConfig struct {
	Domain   types.Domain   `yaml:"domain"`
	Deployer common.Address `yaml:"deployer"`
	Owner    common.Address `yaml:"owner"`
	Symbol   string         `yaml:"symbol,omitempty"`
	// Vow receives the fees.
	Vow common.Address `yaml:"vow,omitempty"`
	// Balances are minted on the settlement domain token at startup.
	Balances map[common.Address]*uint256.Int `yaml:"balances,omitempty"`
}

// SourceConfig describes a domain teleports originate from.
type SourceConfig struct {
	Domain   types.Domain   `yaml:"domain"`
	Deployer common.Address `yaml:"deployer"`
	// Line is the debt ceiling of the domain on the join. No ceiling when empty.
	Line *uint256.Int `yaml:"line,omitempty"`
	Fee  FeeConfig    `yaml:"fee,omitempty"`
	// Confirmations is how many events the oracles wait for before attesting.
	Confirmations uint64 `yaml:"confirmations,omitempty"`
}

type OracleConfig struct {
	Threshold uint64 `yaml:"threshold"`
	// SignerKeys are the hex encoded keys of the oracles run in process.
	SignerKeys []string `yaml:"signer_keys,omitempty"`
	// Signers are registered on the oracle auth in addition to the in-process oracles.
	Signers      []common.Address `yaml:"signers,omitempty"`
	PollInterval time.Duration    `yaml:"poll_interval,omitempty"`
}

type RelayerConfig struct {
	MaxAttempts uint64        `yaml:"max_attempts,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

// SystemConfig is the topology of the teleport system: one settlement domain and its source domains.
type SystemConfig struct {
	Settlement SettlementConfig `yaml:"settlement"`
	Sources    []SourceConfig   `yaml:"sources"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Relayer    RelayerConfig    `yaml:"relayer,omitempty"`
}

var _ Loader = (*SystemConfig)(nil)

// Load is implemented on the SystemConfig itself,
// so that a static already-instantiated config can be used for in-process service setup,
// to bypass the YAML loading.
func (c *SystemConfig) Load(ctx context.Context) (*SystemConfig, error) {
	return c, nil
}

func (c *SystemConfig) Check() error {
	var result error
	if c.Settlement.Domain.IsZero() {
		result = errors.Join(result, errors.New("missing settlement domain"))
	}
	if c.Settlement.Deployer == (common.Address{}) {
		result = errors.Join(result, errors.New("missing settlement deployer"))
	}
	if c.Settlement.Owner == (common.Address{}) {
		result = errors.Join(result, errors.New("missing owner"))
	}
	if len(c.Sources) == 0 {
		result = errors.Join(result, errors.New("no source domains"))
	}
	seen := map[types.Domain]struct{}{c.Settlement.Domain: {}}
	deployers := map[common.Address]struct{}{c.Settlement.Deployer: {}}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Domain.IsZero() {
			result = errors.Join(result, fmt.Errorf("source %d: missing domain", i))
			continue
		}
		if _, ok := seen[src.Domain]; ok {
			result = errors.Join(result, fmt.Errorf("source %s: duplicate domain", src.Domain))
		}
		seen[src.Domain] = struct{}{}
		if _, ok := deployers[src.Deployer]; ok || src.Deployer == (common.Address{}) {
			result = errors.Join(result, fmt.Errorf("source %s: deployer must be set and distinct", src.Domain))
		}
		deployers[src.Deployer] = struct{}{}
		if err := src.Fee.Check(); err != nil {
			result = errors.Join(result, fmt.Errorf("source %s: %w", src.Domain, err))
		}
	}
	signers := uint64(len(c.Oracle.SignerKeys) + len(c.Oracle.Signers))
	if c.Oracle.Threshold == 0 || c.Oracle.Threshold > signers {
		result = errors.Join(result, fmt.Errorf("%w: %d of %d signers", types.ErrInvalidThreshold, c.Oracle.Threshold, signers))
	}
	return result
}

// Source returns the config of the source domain.
func (c *SystemConfig) Source(d types.Domain) (*SourceConfig, bool) {
	for i := range c.Sources {
		if c.Sources[i].Domain == d {
			return &c.Sources[i], true
		}
	}
	return nil, false
}
