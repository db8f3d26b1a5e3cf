package types

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testGUID() *TeleportGUID {
	return &TeleportGUID{
		SourceDomain: MustDomain("L2-A"),
		TargetDomain: MustDomain("L1"),
		Receiver:     AddressToBytes32(common.HexToAddress("0x1111111111111111111111111111111111111111")),
		Operator:     AddressToBytes32(common.HexToAddress("0x2222222222222222222222222222222222222222")),
		Amount:       uint256.NewInt(100),
		Nonce:        7,
		Timestamp:    1_700_000_000,
	}
}

func TestGUIDPackedLayout(t *testing.T) {
	g := testGUID()
	data, err := g.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 160)

	require.Equal(t, []byte("L2-A"), data[0:4])
	require.Equal(t, make([]byte, 28), data[4:32])
	require.Equal(t, []byte("L1"), data[32:34])
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes(), data[76:96])
	// amount: 16 bytes big-endian
	require.Equal(t, byte(100), data[143])
	require.Equal(t, make([]byte, 15), data[128:143])
	// nonce: 10 bytes big-endian
	require.Equal(t, byte(7), data[153])
	require.Equal(t, make([]byte, 9), data[144:153])
	// timestamp: 6 bytes big-endian
	require.Equal(t, []byte{0x00, 0x00, 0x65, 0x53, 0xf1, 0x00}, data[154:160])

	require.Equal(t, crypto.Keccak256Hash(data), g.Hash())

	var decoded TeleportGUID
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, g.Hash(), decoded.Hash())
	require.Equal(t, g.Nonce, decoded.Nonce)
	require.Equal(t, g.Amount, decoded.Amount)
	require.Equal(t, g.Timestamp, decoded.Timestamp)
}

func TestGUIDFieldBounds(t *testing.T) {
	g := testGUID()
	g.Amount = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err := g.MarshalBinary()
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, common.Hash{}, g.Hash())

	g.Amount = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	_, err = g.MarshalBinary()
	require.NoError(t, err)

	g.Timestamp = MaxTimestamp
	_, err = g.MarshalBinary()
	require.ErrorIs(t, err, ErrInvalidGUID)

	data, err := testGUID().MarshalBinary()
	require.NoError(t, err)
	data[144] = 1 // nonce wider than 64 bits
	var decoded TeleportGUID
	require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrInvalidGUID)
	require.ErrorIs(t, decoded.UnmarshalBinary(data[:100]), ErrInvalidGUID)
}

func TestGUIDHashCoversEveryField(t *testing.T) {
	base := testGUID().Hash()
	mutations := map[string]func(g *TeleportGUID){
		"source":    func(g *TeleportGUID) { g.SourceDomain = MustDomain("L2-B") },
		"target":    func(g *TeleportGUID) { g.TargetDomain = MustDomain("L1-B") },
		"receiver":  func(g *TeleportGUID) { g.Receiver[31] ^= 1 },
		"operator":  func(g *TeleportGUID) { g.Operator[31] ^= 1 },
		"amount":    func(g *TeleportGUID) { g.Amount = uint256.NewInt(101) },
		"nonce":     func(g *TeleportGUID) { g.Nonce++ },
		"timestamp": func(g *TeleportGUID) { g.Timestamp++ },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			g := testGUID()
			mutate(g)
			require.NotEqual(t, base, g.Hash())
		})
	}
}

func TestGUIDSigningHash(t *testing.T) {
	g := testGUID()
	h := g.Hash()
	expected := crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), h[:])
	require.Equal(t, expected, g.SigningHash())
}

func TestGUIDJSON(t *testing.T) {
	g := testGUID()
	data, err := json.Marshal(g)
	require.NoError(t, err)
	require.Contains(t, string(data), `"amount":"100"`)
	require.Contains(t, string(data), `"nonce":"0x7"`)

	var decoded TeleportGUID
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, g.Hash(), decoded.Hash())

	require.Error(t, json.Unmarshal([]byte(`{"amount":"abc"}`), &decoded))
}

func TestDomain(t *testing.T) {
	d, err := DomainFromString("OPT-MAIN-A")
	require.NoError(t, err)
	require.Equal(t, "OPT-MAIN-A", d.Name())
	require.Equal(t, "OPT-MAIN-A", d.String())
	require.Equal(t, byte(0), d[31])

	_, err = DomainFromString("")
	require.ErrorIs(t, err, ErrInvalidDomain)
	_, err = DomainFromString("this-domain-name-is-far-too-long-to-fit")
	require.ErrorIs(t, err, ErrInvalidDomain)

	text, err := d.MarshalText()
	require.NoError(t, err)
	var fromHex, fromName Domain
	require.NoError(t, fromHex.UnmarshalText(text))
	require.NoError(t, fromName.UnmarshalText([]byte("OPT-MAIN-A")))
	require.Equal(t, d, fromHex)
	require.Equal(t, d, fromName)
}

func TestBytes32Address(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	b := AddressToBytes32(addr)
	require.Equal(t, make([]byte, 12), b[:12])
	require.Equal(t, addr, b.Address())
}

func TestIsRecoverable(t *testing.T) {
	require.True(t, IsRecoverable(ErrBelowThreshold))
	require.True(t, IsRecoverable(ErrNothingToFlush))
	require.False(t, IsRecoverable(ErrReplayedGUID))
	require.False(t, IsRecoverable(ErrUnknownSigner))
	require.False(t, IsRecoverable(nil))
}

func TestTeleportStatusText(t *testing.T) {
	for _, s := range []TeleportStatus{StatusUnknown, StatusRegistered, StatusFinalized} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var out TeleportStatus
		require.NoError(t, out.UnmarshalText(text))
		require.Equal(t, s, out)
	}
	var out TeleportStatus
	require.ErrorIs(t, json.Unmarshal([]byte(`"minted"`), &out), ErrInvalidData)
}
