package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Deployment order on the settlement domain, as deployer nonces.
// The gateways of each source domain follow, two per source in config order.
const (
	TokenNonce uint64 = iota
	EscrowNonce
	JoinNonce
	RouterNonce
	OracleAuthNonce
	firstSourceNonce
)

// Deployment order on a source domain.
const (
	SourceTokenNonce uint64 = iota
	SourceGatewayNonce
	SourceBridgeNonce
)

// PredictAddress returns the address of the contract the deployer creates with the given nonce.
func PredictAddress(deployer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(deployer, nonce)
}

// CheckCounterpart verifies that a counterpart address fixed before deployment
// matches where the counterpart was actually deployed.
func CheckCounterpart(name string, configured, deployed common.Address) error {
	if configured != deployed {
		return fmt.Errorf("%s counterpart configured as %s but deployed at %s", name, configured, deployed)
	}
	return nil
}

type SourceAddresses struct {
	Token   common.Address
	Gateway common.Address
	Bridge  common.Address
	// on the settlement domain
	Settlement common.Address
	L1Bridge   common.Address
}

// Addresses is where every contract of the system lives.
type Addresses struct {
	Token      common.Address
	Escrow     common.Address
	Join       common.Address
	Router     common.Address
	OracleAuth common.Address
	Sources    map[types.Domain]SourceAddresses
}

// Addresses predicts the address of every contract from the deployers and the deployment order.
func (c *SystemConfig) Addresses() Addresses {
	l1 := c.Settlement.Deployer
	out := Addresses{
		Token:      PredictAddress(l1, TokenNonce),
		Escrow:     PredictAddress(l1, EscrowNonce),
		Join:       PredictAddress(l1, JoinNonce),
		Router:     PredictAddress(l1, RouterNonce),
		OracleAuth: PredictAddress(l1, OracleAuthNonce),
		Sources:    make(map[types.Domain]SourceAddresses, len(c.Sources)),
	}
	for i, src := range c.Sources {
		nonce := firstSourceNonce + 2*uint64(i)
		out.Sources[src.Domain] = SourceAddresses{
			Token:      PredictAddress(src.Deployer, SourceTokenNonce),
			Gateway:    PredictAddress(src.Deployer, SourceGatewayNonce),
			Bridge:     PredictAddress(src.Deployer, SourceBridgeNonce),
			Settlement: PredictAddress(l1, nonce),
			L1Bridge:   PredictAddress(l1, nonce+1),
		}
	}
	return out
}
