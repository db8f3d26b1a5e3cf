package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
)

// Escrow holds tokens at its own address. Wards grant spenders access to the escrowed tokens.
type Escrow struct {
	addr common.Address
	*auth.Wards
}

func NewEscrow(addr common.Address, owner common.Address) *Escrow {
	return &Escrow{addr: addr, Wards: auth.NewWards(owner)}
}

func (e *Escrow) Address() common.Address {
	return e.addr
}

// Approve lets spender move up to amount of the escrowed token.
func (e *Escrow) Approve(caller common.Address, token *Token, spender common.Address, amount *uint256.Int) error {
	if err := e.Check(caller); err != nil {
		return err
	}
	return token.Approve(e.addr, spender, amount)
}

func (e *Escrow) Balance(token *Token) *uint256.Int {
	return token.BalanceOf(e.addr)
}
