package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	amountLen    = 16
	nonceLen     = 10
	timestampLen = 6

	// GUIDLength is the size of the packed GUID encoding.
	GUIDLength = 4*32 + amountLen + nonceLen + timestampLen

	// MaxTimestamp is the first timestamp that does not fit 48 bits.
	MaxTimestamp = uint64(1) << 48
)

// TeleportGUID is the envelope identifying one teleport. It is never mutated after creation.
type TeleportGUID struct {
	SourceDomain Domain
	TargetDomain Domain
	Receiver     Bytes32
	Operator     Bytes32
	Amount       *uint256.Int
	Nonce        uint64
	Timestamp    uint64
}

// ReplayKey is the (source domain, nonce) pair that is unique per teleport.
type ReplayKey struct {
	SourceDomain Domain
	Nonce        uint64
}

func (k ReplayKey) String() string {
	return fmt.Sprintf("%s:%d", k.SourceDomain, k.Nonce)
}

// ValidAmount reports whether the amount fits the 128 bit GUID field and is not zero.
func ValidAmount(amount *uint256.Int) bool {
	return amount != nil && !amount.IsZero() && amount.BitLen() <= 8*amountLen
}

// Check verifies every field fits its packed width.
func (g *TeleportGUID) Check() error {
	if !ValidAmount(g.Amount) {
		return fmt.Errorf("%w: amount %v", ErrInvalidAmount, g.Amount)
	}
	if g.Timestamp >= MaxTimestamp {
		return fmt.Errorf("%w: timestamp %d exceeds 48 bits", ErrInvalidGUID, g.Timestamp)
	}
	if g.SourceDomain.IsZero() || g.TargetDomain.IsZero() {
		return fmt.Errorf("%w: missing domain", ErrInvalidGUID)
	}
	return nil
}

func (g *TeleportGUID) ReplayKey() ReplayKey {
	return ReplayKey{SourceDomain: g.SourceDomain, Nonce: g.Nonce}
}

// MarshalBinary packs the GUID big-endian, each field at its natural width.
func (g *TeleportGUID) MarshalBinary() ([]byte, error) {
	if err := g.Check(); err != nil {
		return nil, err
	}
	out := make([]byte, GUIDLength)
	copy(out[0:32], g.SourceDomain[:])
	copy(out[32:64], g.TargetDomain[:])
	copy(out[64:96], g.Receiver[:])
	copy(out[96:128], g.Operator[:])
	amount := g.Amount.Bytes32()
	copy(out[128:144], amount[32-amountLen:])
	// the nonce occupies the low 8 of its 10 bytes, the upper 2 stay zero
	binary.BigEndian.PutUint64(out[146:154], g.Nonce)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], g.Timestamp)
	copy(out[154:160], ts[8-timestampLen:])
	return out, nil
}

// UnmarshalBinary decodes a packed GUID.
func (g *TeleportGUID) UnmarshalBinary(data []byte) error {
	if len(data) != GUIDLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidGUID, GUIDLength, len(data))
	}
	if data[144] != 0 || data[145] != 0 {
		return fmt.Errorf("%w: nonce exceeds 64 bits", ErrInvalidGUID)
	}
	var out TeleportGUID
	copy(out.SourceDomain[:], data[0:32])
	copy(out.TargetDomain[:], data[32:64])
	copy(out.Receiver[:], data[64:96])
	copy(out.Operator[:], data[96:128])
	out.Amount = new(uint256.Int).SetBytes(data[128:144])
	out.Nonce = binary.BigEndian.Uint64(data[146:154])
	var ts [8]byte
	copy(ts[8-timestampLen:], data[154:160])
	out.Timestamp = binary.BigEndian.Uint64(ts[:])
	if err := out.Check(); err != nil {
		return err
	}
	*g = out
	return nil
}

// Hash is keccak256 over the packed encoding.
func (g *TeleportGUID) Hash() common.Hash {
	data, err := g.MarshalBinary()
	if err != nil {
		// an unpackable GUID has no identity; the zero hash never matches a signed digest
		return common.Hash{}
	}
	return crypto.Keccak256Hash(data)
}

// SigningHash is the digest oracles sign: Hash with the Ethereum signed message prefix.
func (g *TeleportGUID) SigningHash() common.Hash {
	h := g.Hash()
	return common.BytesToHash(accounts.TextHash(h[:]))
}

func (g *TeleportGUID) String() string {
	return fmt.Sprintf("teleport(%s->%s nonce=%d amount=%v)", g.SourceDomain, g.TargetDomain, g.Nonce, g.Amount)
}

type guidJSON struct {
	SourceDomain Domain         `json:"sourceDomain"`
	TargetDomain Domain         `json:"targetDomain"`
	Receiver     Bytes32        `json:"receiver"`
	Operator     Bytes32        `json:"operator"`
	Amount       string         `json:"amount"`
	Nonce        hexutil.Uint64 `json:"nonce"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
}

// MarshalJSON renders the amount in decimal, and the integers in hex.
func (g TeleportGUID) MarshalJSON() ([]byte, error) {
	amount := "0"
	if g.Amount != nil {
		amount = g.Amount.Dec()
	}
	return json.Marshal(&guidJSON{
		SourceDomain: g.SourceDomain,
		TargetDomain: g.TargetDomain,
		Receiver:     g.Receiver,
		Operator:     g.Operator,
		Amount:       amount,
		Nonce:        hexutil.Uint64(g.Nonce),
		Timestamp:    hexutil.Uint64(g.Timestamp),
	})
}

func (g *TeleportGUID) UnmarshalJSON(data []byte) error {
	var dec guidJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(dec.Amount)
	if err != nil {
		return fmt.Errorf("%w: amount %q: %w", ErrInvalidGUID, dec.Amount, err)
	}
	out := TeleportGUID{
		SourceDomain: dec.SourceDomain,
		TargetDomain: dec.TargetDomain,
		Receiver:     dec.Receiver,
		Operator:     dec.Operator,
		Amount:       amount,
		Nonce:        uint64(dec.Nonce),
		Timestamp:    uint64(dec.Timestamp),
	}
	if err := out.Check(); err != nil {
		return err
	}
	*g = out
	return nil
}

// TeleportStatus tracks a GUID on its target domain.
type TeleportStatus uint8

const (
	StatusUnknown TeleportStatus = iota
	// StatusRegistered means the GUID was accepted, with part of the amount still pending a mint.
	StatusRegistered
	StatusFinalized
)

func (s TeleportStatus) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

func (s TeleportStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TeleportStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = StatusUnknown
	case "registered":
		*s = StatusRegistered
	case "finalized":
		*s = StatusFinalized
	default:
		return fmt.Errorf("%w: unknown teleport status %q", ErrInvalidData, text)
	}
	return nil
}
