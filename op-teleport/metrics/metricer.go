package metrics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	// source gateway
	RecordTeleportInitiated(target types.Domain, amount *uint256.Int)
	RecordFlush(target types.Domain, amount *uint256.Int)

	// join and oracle auth
	RecordMint(source types.Domain, amount, fee *uint256.Int)
	RecordSettle(source types.Domain, amount *uint256.Int)
	RecordSignatureCheck(err error)

	// oracles
	RecordAttestation(signer common.Address)

	// message relayer
	RecordRelayed(kind string)
	RecordRelayFailed(kind string, permanent bool)

	opmetrics.RefMetricer
	opmetrics.HTTPRecorder
}
