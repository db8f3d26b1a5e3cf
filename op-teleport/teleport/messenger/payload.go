package messenger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Kind selects the handler of a message on the receiving side.
type Kind uint8

const (
	KindFinalizeRegisterTeleport Kind = 0
	KindFinalizeFlush            Kind = 1
	KindFinalizeDeposit          Kind = 2
	KindFinalizeWithdrawal       Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFinalizeRegisterTeleport:
		return "finalize_register_teleport"
	case KindFinalizeFlush:
		return "finalize_flush"
	case KindFinalizeDeposit:
		return "finalize_deposit"
	case KindFinalizeWithdrawal:
		return "finalize_withdrawal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func EncodeRegisterTeleport(guid *types.TeleportGUID) ([]byte, error) {
	return guid.MarshalBinary()
}

func DecodeRegisterTeleport(payload []byte) (*types.TeleportGUID, error) {
	var guid types.TeleportGUID
	if err := guid.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidMessage, err)
	}
	return &guid, nil
}

// Flush is the batched settlement of one target domain.
type Flush struct {
	TargetDomain types.Domain
	Amount       *uint256.Int
}

func EncodeFlush(f Flush) []byte {
	out := make([]byte, 0, 64)
	out = append(out, f.TargetDomain[:]...)
	amount := f.Amount.Bytes32()
	return append(out, amount[:]...)
}

func DecodeFlush(payload []byte) (Flush, error) {
	if len(payload) != 64 {
		return Flush{}, fmt.Errorf("%w: flush payload of %d bytes", types.ErrInvalidMessage, len(payload))
	}
	var f Flush
	copy(f.TargetDomain[:], payload[:32])
	f.Amount = new(uint256.Int).SetBytes(payload[32:])
	return f, nil
}

// Transfer is a slow path deposit or withdrawal.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func EncodeTransfer(tr Transfer) []byte {
	out := make([]byte, 0, 72)
	out = append(out, tr.From[:]...)
	out = append(out, tr.To[:]...)
	amount := tr.Amount.Bytes32()
	return append(out, amount[:]...)
}

func DecodeTransfer(payload []byte) (Transfer, error) {
	if len(payload) != 72 {
		return Transfer{}, fmt.Errorf("%w: transfer payload of %d bytes", types.ErrInvalidMessage, len(payload))
	}
	return Transfer{
		From:   common.BytesToAddress(payload[:20]),
		To:     common.BytesToAddress(payload[20:40]),
		Amount: new(uint256.Int).SetBytes(payload[40:]),
	}, nil
}
