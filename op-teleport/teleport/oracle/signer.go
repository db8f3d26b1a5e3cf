// Package oracle observes source gateway events and attests to the teleports they record.
package oracle

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// ChainEthereum keys the ECDSA signature in the signatures of an attestation.
const ChainEthereum = "ethereum"

type Signature struct {
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
}

// AttestationData is the attested event.
type AttestationData struct {
	// Event is the packed GUID.
	Event hexutil.Bytes `json:"event"`
	// Hash is the reference of the initiation event.
	Hash common.Hash         `json:"hash"`
	GUID *types.TeleportGUID `json:"guid"`
}

// Attestation is one oracle's statement about one teleport.
type Attestation struct {
	Timestamp  uint64               `json:"timestamp"`
	Data       AttestationData      `json:"data"`
	Signatures map[string]Signature `json:"signatures"`
}

// Signer signs GUID digests with a local key.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignerFromHex parses a hex encoded private key, with or without 0x prefix.
func SignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return NewSigner(key), nil
}

func (s *Signer) Address() common.Address {
	return s.addr
}

// Sign signs the EIP-191 digest of the GUID. The recovery id is offset by 27.
func (s *Signer) Sign(guid *types.TeleportGUID) (Signature, error) {
	if err := guid.Check(); err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(guid.SigningHash().Bytes(), s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign %s: %w", guid.Hash(), err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return Signature{Signer: s.addr, Signature: sig}, nil
}

// Attest signs the GUID recorded by the event with the given reference.
func (s *Signer) Attest(guid *types.TeleportGUID, ref common.Hash) (Attestation, error) {
	sig, err := s.Sign(guid)
	if err != nil {
		return Attestation{}, err
	}
	packed, err := guid.MarshalBinary()
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{
		Timestamp:  guid.Timestamp,
		Data:       AttestationData{Event: packed, Hash: ref, GUID: guid},
		Signatures: map[string]Signature{ChainEthereum: sig},
	}, nil
}
