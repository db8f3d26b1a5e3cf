package router

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// WAD is the fixed point unit of fee fractions: WAD is 100%.
var WAD = uint256.NewInt(1_000_000_000_000_000_000)

// FeeCalculator prices the fast path for teleports from one source domain.
type FeeCalculator interface {
	// Fee returns the fee charged on amount, the part of the teleport minted now.
	Fee(guid *types.TeleportGUID, line, debt, pending, amount *uint256.Int, now time.Time) *uint256.Int
}

type ZeroFee struct{}

func (ZeroFee) Fee(*types.TeleportGUID, *uint256.Int, *uint256.Int, *uint256.Int, *uint256.Int, time.Time) *uint256.Int {
	return new(uint256.Int)
}

// LinearFee charges a fixed fraction of the minted amount, until TTL has passed since the teleport was initiated.
// Past the TTL the teleport could have been settled through the slow path, and no fee applies.
type LinearFee struct {
	// Fraction of the amount, in WAD.
	Fraction *uint256.Int
	TTL      time.Duration
}

func (f LinearFee) Fee(guid *types.TeleportGUID, _, _, _, amount *uint256.Int, now time.Time) *uint256.Int {
	expiry := time.Unix(int64(guid.Timestamp), 0).Add(f.TTL)
	if !now.Before(expiry) {
		return new(uint256.Int)
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, f.Fraction, WAD)
	if overflow {
		// fraction above 100% on a huge amount, charge everything
		return amount.Clone()
	}
	return fee
}

// maxFee is the largest fee the caller accepts on amount, given maxFeePct in WAD.
func maxFee(amount, maxFeePct *uint256.Int) *uint256.Int {
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, maxFeePct, WAD)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return fee
}
