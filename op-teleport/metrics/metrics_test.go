package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

func TestTeleportMetrics(t *testing.T) {
	m := NewMetrics("")

	require.NotEmpty(t, m.Document(), "sanity check there are generated metrics docs")

	version := "v1.2.3"
	m.RecordInfo(version)
	m.RecordUp()

	l1 := types.MustDomain("L1")
	l2 := types.MustDomain("L2-A")
	m.RecordTeleportInitiated(l1, uint256.NewInt(100))
	m.RecordTeleportInitiated(l1, uint256.NewInt(50))
	m.RecordFlush(l1, uint256.NewInt(150))
	m.RecordMint(l2, uint256.NewInt(100), uint256.NewInt(1))
	m.RecordSettle(l2, uint256.NewInt(150))
	m.RecordSignatureCheck(nil)
	m.RecordSignatureCheck(fmt.Errorf("wrapped: %w", types.ErrBelowThreshold))
	m.RecordSignatureCheck(errors.New("bad"))
	signer := common.HexToAddress("0x1234")
	m.RecordAttestation(signer)
	m.RecordRelayed("finalize_flush")
	m.RecordRelayFailed("finalize_flush", true)
	m.RecordRef("L2-A", "events", 7, common.Hash{0x01})
	m.RecordHTTPRequest(&opmetrics.HTTPParams{Method: "GET", StatusCode: 200, Duration: time.Millisecond, ResponseLen: 10})

	c := opmetrics.NewMetricChecker(t, m.Registry())
	prefix := Namespace + "_default_"

	target := map[string]string{"target": "L1"}
	require.Equal(t, 2.0, c.FindByName(prefix+"teleports_initiated_total").CounterValue(target))
	require.Equal(t, 150.0, c.FindByName(prefix+"teleported_amount_total").CounterValue(target))
	require.Equal(t, 1.0, c.FindByName(prefix+"flushes_total").CounterValue(target))
	require.Equal(t, 150.0, c.FindByName(prefix+"flushed_amount_total").CounterValue(target))

	source := map[string]string{"source": "L2-A"}
	require.Equal(t, 1.0, c.FindByName(prefix+"mints_total").CounterValue(source))
	require.Equal(t, 100.0, c.FindByName(prefix+"minted_amount_total").CounterValue(source))
	require.Equal(t, 1.0, c.FindByName(prefix+"fees_amount_total").CounterValue(source))
	require.Equal(t, 150.0, c.FindByName(prefix+"settled_amount_total").CounterValue(source))

	checks := c.FindByName(prefix + "signature_checks_total")
	require.Equal(t, 1.0, checks.CounterValue(map[string]string{"result": "valid"}))
	require.Equal(t, 1.0, checks.CounterValue(map[string]string{"result": "below_threshold"}))
	require.Equal(t, 1.0, checks.CounterValue(map[string]string{"result": "invalid"}))

	require.Equal(t, 1.0, c.FindByName(prefix+"attestations_total").CounterValue(map[string]string{"signer": signer.Hex()}))
	require.Equal(t, 1.0, c.FindByName(prefix+"messages_relayed_total").CounterValue(map[string]string{"kind": "finalize_flush"}))
	require.Equal(t, 1.0, c.FindByName(prefix+"messages_failed_total").CounterValue(map[string]string{"kind": "finalize_flush", "permanent": "true"}))
	require.Equal(t, 7.0, c.FindByName(prefix+"refs_height").GaugeValue(map[string]string{"domain": "L2-A", "type": "events"}))
	require.Equal(t, 1.0, c.FindByName(prefix+"http_server_requests_total").CounterValue(map[string]string{"method": "GET", "status": "200"}))

	require.Equal(t, 1.0, c.FindByName(prefix+"up").GaugeValue(nil))
	require.Equal(t, 1.0, c.FindByName(prefix+"info").GaugeValue(map[string]string{"version": version}))
}

func TestLargeAmounts(t *testing.T) {
	m := NewMetrics("big")
	amount := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	m.RecordFlush(types.MustDomain("L1"), amount)

	c := opmetrics.NewMetricChecker(t, m.Registry())
	v := c.FindByName(Namespace + "_big_flushed_amount_total").CounterValue(map[string]string{"target": "L1"})
	require.Equal(t, 1267650600228229401496703205376.0, v)
}

func TestNoopMetrics(t *testing.T) {
	m := &NoopMetrics{}
	m.RecordInfo("1234")
	m.RecordUp()
	m.RecordTeleportInitiated(types.MustDomain("L1"), uint256.NewInt(1))
	m.RecordSignatureCheck(errors.New("test err"))
	m.RecordRef("L1", "events", 1, common.Hash{})
	m.RecordHTTPRequest(&opmetrics.HTTPParams{})
}
