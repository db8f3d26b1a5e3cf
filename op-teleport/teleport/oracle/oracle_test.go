package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-service/testlog"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/gateway"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

var (
	l1 = types.MustDomain("L1")
	l2 = types.MustDomain("L2-A")
)

type testMetrics struct {
	opmetrics.NoopRefMetrics
	mu       sync.Mutex
	attested map[common.Address]int
}

func (m *testMetrics) RecordAttestation(signer common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attested == nil {
		m.attested = make(map[common.Address]int)
	}
	m.attested[signer]++
}

func (m *testMetrics) count(signer common.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attested[signer]
}

type noopAuthMetrics struct{}

func (noopAuthMetrics) RecordMint(types.Domain, *uint256.Int, *uint256.Int) {}
func (noopAuthMetrics) RecordSettle(types.Domain, *uint256.Int)             {}
func (noopAuthMetrics) RecordSignatureCheck(error)                          {}

func testGUID(nonce uint64) *types.TeleportGUID {
	return &types.TeleportGUID{
		SourceDomain: l2,
		TargetDomain: l1,
		Receiver:     types.AddressToBytes32(common.HexToAddress("0x00000000000000000000000000000000000000d1")),
		Amount:       uint256.NewInt(100),
		Nonce:        nonce,
		Timestamp:    1_700_000_000,
	}
}

type oracleEnv struct {
	st      *store.Store
	events  *gateway.EventLog
	m       *testMetrics
	signers []*Signer
	set     *AttesterSet
}

func newSigner(t *testing.T) *Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(key)
}

func setup(t *testing.T, n int, confirmations uint64) *oracleEnv {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := &oracleEnv{st: store.NewMemory(), m: &testMetrics{}}
	events, err := gateway.LoadEventLog(ctx, l2, env.st.Table("events"), &opmetrics.NoopRefMetrics{})
	require.NoError(t, err)
	env.events = events

	var attesters []*Attester
	for i := 0; i < n; i++ {
		s := newSigner(t)
		env.signers = append(env.signers, s)
		a, err := NewAttester(ctx, logger, env.m, s, events, confirmations, env.st)
		require.NoError(t, err)
		attesters = append(attesters, a)
	}
	env.set = NewAttesterSet(logger, time.Hour, attesters...)
	return env
}

func (env *oracleEnv) addresses() []common.Address {
	var addrs []common.Address
	for _, s := range env.signers {
		addrs = append(addrs, s.Address())
	}
	return addrs
}

func (env *oracleEnv) initiate(t *testing.T, nonce uint64) gateway.Event {
	guid := testGUID(nonce)
	ev, err := env.events.Append(context.Background(), gateway.Event{
		Kind:         gateway.EventTeleportInitialized,
		Timestamp:    guid.Timestamp,
		GUID:         guid,
		TargetDomain: guid.TargetDomain,
		Amount:       guid.Amount,
	})
	require.NoError(t, err)
	return ev
}

func (env *oracleEnv) flush(t *testing.T) gateway.Event {
	ev, err := env.events.Append(context.Background(), gateway.Event{
		Kind:         gateway.EventFlushed,
		TargetDomain: l1,
		Amount:       uint256.NewInt(100),
	})
	require.NoError(t, err)
	return ev
}

func TestSignerSignature(t *testing.T) {
	s := newSigner(t)
	guid := testGUID(1)
	sig, err := s.Sign(guid)
	require.NoError(t, err)
	require.Len(t, sig.Signature, crypto.SignatureLength)
	require.GreaterOrEqual(t, sig.Signature[crypto.RecoveryIDOffset], byte(27))
	require.True(t, verify(guid, sig))

	other := testGUID(2)
	require.False(t, verify(other, sig))

	_, err = s.Sign(&types.TeleportGUID{SourceDomain: l2, TargetDomain: l1, Amount: uint256.NewInt(0)})
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestSignerFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	for _, in := range []string{hexKey, "0x" + hexKey} {
		s, err := SignerFromHex(in)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	}
	_, err = SignerFromHex("0xnothex")
	require.Error(t, err)
}

func TestAttesterWaitsForConfirmations(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 1, 2)
	a := env.set.Attesters()[0]
	first := env.initiate(t, 1)

	n, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, ok, err := a.Attestation(ctx, first.Ref)
	require.NoError(t, err)
	require.False(t, ok)

	env.flush(t)
	env.initiate(t, 2)
	n, err = a.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(1), a.Scanned())

	att, ok, err := a.Attestation(ctx, first.Ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.Ref, att.Data.Hash)
	require.Equal(t, first.GUID.Hash(), att.Data.GUID.Hash())
	packed, err := first.GUID.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, packed, []byte(att.Data.Event))
	require.Equal(t, a.Signer(), att.Signatures[ChainEthereum].Signer)
	require.Equal(t, 1, env.m.count(a.Signer()))
}

func TestAttesterSkipsOtherEvents(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 1, 0)
	a := env.set.Attesters()[0]
	env.flush(t)
	ev := env.initiate(t, 1)
	env.flush(t)

	n, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(3), a.Scanned())

	// nothing new to scan
	n, err = a.Scan(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, ok, err := a.Attestation(ctx, ev.Ref)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAttesterResumes(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 1, 0)
	signer := env.signers[0]
	env.initiate(t, 1)
	_, err := env.set.Attesters()[0].Scan(ctx)
	require.NoError(t, err)

	second := env.initiate(t, 2)
	restarted, err := NewAttester(ctx, logger, env.m, signer, env.events, 0, env.st)
	require.NoError(t, err)
	require.Equal(t, uint64(1), restarted.Scanned())
	n, err := restarted.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, ok, err := restarted.Attestation(ctx, second.Ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, env.m.count(signer.Address()))
}

func TestScanAll(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 3, 0)
	ev := env.initiate(t, 1)
	env.initiate(t, 2)

	n, err := env.set.ScanAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	atts, err := env.set.Attestations(ctx, ev.Ref)
	require.NoError(t, err)
	require.Len(t, atts, 3)
	seen := make(map[common.Address]bool)
	for _, att := range atts {
		seen[att.Signatures[ChainEthereum].Signer] = true
	}
	for _, s := range env.signers {
		require.True(t, seen[s.Address()])
	}

	atts, err = env.set.Attestations(ctx, common.Hash{0x01})
	require.NoError(t, err)
	require.Empty(t, atts)
}

func TestServerQuery(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 2, 0)
	ev := env.initiate(t, 1)
	_, err := env.set.ScanAll(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(logger, opmetrics.NoopHTTPRecorder, env.set).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/?type=teleport&index=" + ev.Ref.Hex())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var raw []map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Len(t, raw, 2)
	for _, att := range raw {
		require.Contains(t, att, "timestamp")
		require.Contains(t, att, "data")
		require.Contains(t, att, "signatures")
		var data map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(att["data"], &data))
		require.Contains(t, data, "event")
		require.Contains(t, data, "hash")
		require.Contains(t, data, "guid")
		var sigs map[string]Signature
		require.NoError(t, json.Unmarshal(att["signatures"], &sigs))
		require.Contains(t, sigs, ChainEthereum)
	}

	// unknown events yield an empty array
	resp2, err := http.Get(srv.URL + "/?type=teleport&index=" + common.Hash{0x02}.Hex())
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var empty []Attestation
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&empty))
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestServerRejectsBadQueries(t *testing.T) {
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 1, 0)
	srv := httptest.NewServer(NewServer(logger, opmetrics.NoopHTTPRecorder, env.set).Handler())
	t.Cleanup(srv.Close)

	for _, q := range []string{
		"/",
		"/?type=deposit&index=" + common.Hash{}.Hex(),
		"/?type=teleport",
		"/?type=teleport&index=0x1234",
		"/?type=teleport&index=nothex",
	} {
		resp, err := http.Get(srv.URL + q)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, err := http.Post(srv.URL+"/?type=teleport&index="+common.Hash{}.Hex(), "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientCollect(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 3, 0)
	ev := env.initiate(t, 1)
	_, err := env.set.ScanAll(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(logger, opmetrics.NoopHTTPRecorder, env.set).Handler())
	t.Cleanup(srv.Close)
	client := NewClient(logger, ClientConfig{Endpoint: srv.URL, MaxAttempts: 3})

	addrs := env.addresses()
	guid, sigs, err := client.Collect(ctx, ev.Ref, addrs, 2)
	require.NoError(t, err)
	require.Equal(t, ev.GUID.Hash(), guid.Hash())
	require.Len(t, sigs, 2*crypto.SignatureLength, "packs exactly threshold signatures")

	// the packed bundle passes the threshold check
	oa, err := router.NewOracleAuth(logger, noopAuthMetrics{}, router.OracleAuthConfig{
		Signers:   addrs,
		Threshold: 2,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, oa.Validate(guid, sigs))
}

func TestClientCollectSkipsRemovedSigner(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 3, 0)
	ev := env.initiate(t, 1)
	_, err := env.set.ScanAll(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(logger, opmetrics.NoopHTTPRecorder, env.set).Handler())
	t.Cleanup(srv.Close)
	client := NewClient(logger, ClientConfig{Endpoint: srv.URL, MaxAttempts: 3})

	// the lowest signer keeps attesting after it was removed from the oracle auth
	addrs := env.addresses()
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	registered := addrs[1:]
	oa, err := router.NewOracleAuth(logger, noopAuthMetrics{}, router.OracleAuthConfig{
		Signers:   registered,
		Threshold: 2,
	}, nil)
	require.NoError(t, err)

	guid, sigs, err := client.Collect(ctx, ev.Ref, oa.Signers(), int(oa.Threshold()))
	require.NoError(t, err)
	require.Len(t, sigs, 2*crypto.SignatureLength)
	require.NoError(t, oa.Validate(guid, sigs))

	// unfiltered, the bundle carries the removed signer and is rejected
	atts, err := client.Fetch(ctx, ev.Ref)
	require.NoError(t, err)
	_, all := Agree(atts, addrs, 3)
	require.Len(t, all, 3)
	require.ErrorContains(t, oa.Validate(guid, PackSignatures(all)), addrs[0].Hex())

	// one registered signer is not enough
	_, _, err = NewClient(logger, ClientConfig{Endpoint: srv.URL, MaxAttempts: 1}).Collect(ctx, ev.Ref, registered[:1], 2)
	require.ErrorIs(t, err, types.ErrBelowThreshold)
}

func TestClientBelowThreshold(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := setup(t, 1, 0)
	ev := env.initiate(t, 1)
	_, err := env.set.ScanAll(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(logger, opmetrics.NoopHTTPRecorder, env.set).Handler())
	t.Cleanup(srv.Close)
	client := NewClient(logger, ClientConfig{Endpoint: srv.URL, MaxAttempts: 2, RequestsPerSecond: 100})

	_, _, err = client.Collect(ctx, ev.Ref, env.addresses(), 2)
	require.ErrorIs(t, err, types.ErrBelowThreshold)
	_, _, err = client.Collect(ctx, ev.Ref, env.addresses(), 0)
	require.ErrorIs(t, err, types.ErrInvalidThreshold)
}

func TestClientServerErrors(t *testing.T) {
	logger := testlog.Logger(t, log.LevelDebug)
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(logger, ClientConfig{Endpoint: srv.URL, MaxAttempts: 3})

	_, _, err := client.Collect(context.Background(), common.Hash{0x01}, nil, 1)
	require.ErrorContains(t, err, "503")
	mu.Lock()
	require.Equal(t, 3, calls)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = client.Collect(ctx, common.Hash{0x01}, nil, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAgreeIgnoresForgeries(t *testing.T) {
	a, b := newSigner(t), newSigner(t)
	guid := testGUID(1)
	attA, err := a.Attest(guid, common.Hash{0x01})
	require.NoError(t, err)
	attB, err := b.Attest(guid, common.Hash{0x01})
	require.NoError(t, err)

	// b's signature claimed by a third party
	forged := attB
	forged.Signatures = map[string]Signature{ChainEthereum: {
		Signer:    common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		Signature: attB.Signatures[ChainEthereum].Signature,
	}}
	// a signature over a different teleport
	attOther, err := b.Attest(testGUID(2), common.Hash{0x01})
	require.NoError(t, err)

	signers := []common.Address{a.Address(), b.Address()}
	got, _ := Agree([]Attestation{attA, forged, attOther}, signers, 2)
	require.Nil(t, got)
	// duplicates of the same signer count once
	got, _ = Agree([]Attestation{attA, attA}, signers, 2)
	require.Nil(t, got)
	// only registered signers count
	got, _ = Agree([]Attestation{attA, attB}, signers[:1], 2)
	require.Nil(t, got)

	got, sigs := Agree([]Attestation{attA, forged, attB}, signers, 2)
	require.NotNil(t, got)
	require.Equal(t, guid.Hash(), got.Hash())
	require.Len(t, sigs, 2)

	// above the threshold the lowest signers are kept
	_, sigs = Agree([]Attestation{attA, attB}, signers, 1)
	require.Len(t, sigs, 1)
	low := a.Address()
	if bytes.Compare(b.Address().Bytes(), low.Bytes()) < 0 {
		low = b.Address()
	}
	require.Equal(t, low, sigs[0].Signer)
}

func TestPackSignatures(t *testing.T) {
	sigs := []Signature{
		{Signer: common.HexToAddress("0x03"), Signature: bytes.Repeat([]byte{3}, crypto.SignatureLength)},
		{Signer: common.HexToAddress("0x01"), Signature: bytes.Repeat([]byte{1}, crypto.SignatureLength)},
		{Signer: common.HexToAddress("0x02"), Signature: bytes.Repeat([]byte{2}, crypto.SignatureLength)},
	}
	packed := PackSignatures(sigs)
	require.Len(t, packed, 3*crypto.SignatureLength)
	for i := 0; i < 3; i++ {
		require.Equal(t, byte(i+1), packed[i*crypto.SignatureLength])
	}
	// input order is untouched
	require.Equal(t, common.HexToAddress("0x03"), sigs[0].Signer)
}
