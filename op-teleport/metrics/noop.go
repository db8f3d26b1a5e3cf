package metrics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type NoopMetrics struct {
	opmetrics.NoopRefMetrics
}

var _ Metricer = (*NoopMetrics)(nil)

func (n *NoopMetrics) RecordInfo(version string) {}

func (n *NoopMetrics) RecordUp() {}

func (n *NoopMetrics) RecordTeleportInitiated(types.Domain, *uint256.Int) {}

func (n *NoopMetrics) RecordFlush(types.Domain, *uint256.Int) {}

func (n *NoopMetrics) RecordMint(types.Domain, *uint256.Int, *uint256.Int) {}

func (n *NoopMetrics) RecordSettle(types.Domain, *uint256.Int) {}

func (n *NoopMetrics) RecordSignatureCheck(error) {}

func (n *NoopMetrics) RecordAttestation(common.Address) {}

func (n *NoopMetrics) RecordRelayed(string) {}

func (n *NoopMetrics) RecordRelayFailed(string, bool) {}

func (n *NoopMetrics) RecordHTTPRequest(*opmetrics.HTTPParams) {}
