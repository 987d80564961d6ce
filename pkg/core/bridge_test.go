package core

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"testing"
	"time"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

func guardians(t *testing.T, n int) ([]*ecdsa.PrivateKey, []common.Address) {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]common.Address, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
		addrs[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return keys, addrs
}

func signedVAA(t *testing.T, index uint32, keys []*ecdsa.PrivateKey) []byte {
	t.Helper()
	v := &vaa.VAA{
		Version:          vaa.SupportedVAAVersion,
		GuardianSetIndex: index,
		Timestamp:        time.Unix(1700000000, 0),
		Nonce:            7,
		Sequence:         1,
		EmitterChain:     vaa.ChainIDEthereum,
		EmitterAddress:   vaa.Address{1},
		Payload:          []byte("hello"),
	}
	for i, k := range keys {
		v.AddSignature(k, uint8(i))
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

func TestVerifier(t *testing.T) {
	keys0, addrs0 := guardians(t, 1)
	keys1, addrs1 := guardians(t, 3)
	v := NewVerifier(&GuardianSet{Index: 0, Keys: addrs0}, &GuardianSet{Index: 1, Keys: addrs1})
	assert.Equal(t, uint32(1), v.CurrentIndex())

	parsed, current, err := v.Verify(signedVAA(t, 1, keys1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), current)
	assert.Equal(t, []byte("hello"), parsed.Payload)

	// An older set still verifies but reports the current index.
	parsed, current, err = v.Verify(signedVAA(t, 0, keys0))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), current)
	assert.Equal(t, uint32(0), parsed.GuardianSetIndex)

	// No quorum.
	_, _, err = v.Verify(signedVAA(t, 1, keys1[:1]))
	assert.Error(t, err)

	// Signed by the wrong guardians.
	_, _, err = v.Verify(signedVAA(t, 1, keys0))
	assert.Error(t, err)

	_, _, err = v.Verify(signedVAA(t, 5, keys1))
	assert.ErrorIs(t, err, ErrUnknownGuardianSet)

	_, _, err = v.Verify([]byte{1, 2})
	assert.Error(t, err)
}

func TestParseGuardianSet(t *testing.T) {
	gs, err := ParseGuardianSet(2, "0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe, 0x88D7D8B32a9105d228100E72dFFe2Fae0705D31c")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), gs.Index)
	assert.Len(t, gs.Keys, 2)
	assert.Equal(t, common.HexToAddress("0xbefa429d57cd18b7f8a4d91a2da9ab4af05d0fbe").Hex(), gs.KeysAsHexStrings()[0])

	_, err = ParseGuardianSet(0, "")
	assert.ErrorIs(t, err, ErrInvalidGuardianSet)
	_, err = ParseGuardianSet(0, "nothex")
	assert.ErrorIs(t, err, ErrInvalidGuardianSet)
}

func newBridgeRuntime(t *testing.T, fee uint64) (*host.Runtime, *MemoryPublisher, []*ecdsa.PrivateKey) {
	t.Helper()
	keys, addrs := guardians(t, 1)
	pub := &MemoryPublisher{}
	rt := host.NewRuntime(zap.NewNop(), uint256.NewInt(1))
	require.NoError(t, rt.CreateAccount("wormhole", new(uint256.Int)))
	require.NoError(t, rt.CreateAccount("portal", uint256.NewInt(100)))
	require.NoError(t, rt.Install("wormhole", NewBridge(zap.NewNop(), NewVerifier(&GuardianSet{Keys: addrs}), &LogPublisher{Logger: zap.NewNop(), Next: pub}, uint256.NewInt(fee))))
	return rt, pub, keys
}

func TestBridgeVerifyVAA(t *testing.T) {
	rt, _, keys := newBridgeRuntime(t, 0)

	rc, err := rt.Execute(context.Background(), host.Call{Signer: "portal", Receiver: "wormhole", Method: MethodVerifyVAA, Args: VerifyVAAArgs{VAA: hex.EncodeToString(signedVAA(t, 0, keys))}})
	require.NoError(t, err)
	require.NoError(t, rc.Err())
	assert.Equal(t, uint32(0), rc.Result.Value)

	rc, err = rt.Execute(context.Background(), host.Call{Signer: "portal", Receiver: "wormhole", Method: MethodVerifyVAA, Args: VerifyVAAArgs{VAA: "zz"}})
	require.NoError(t, err)
	assert.ErrorIs(t, rc.Err(), ErrVerification)
}

func TestBridgePublishMessage(t *testing.T) {
	rt, pub, _ := newBridgeRuntime(t, 10)

	// Underpaid: the deposit comes back.
	rc, err := rt.Execute(context.Background(), host.Call{Signer: "portal", Receiver: "wormhole", Method: MethodPublishMessage, Args: PublishMessageArgs{Data: "01"}, Deposit: uint256.NewInt(9)})
	require.NoError(t, err)
	assert.ErrorIs(t, rc.Err(), ErrMessageFee)
	assert.Equal(t, uint64(100), rt.Balance("portal").Uint64())
	assert.Empty(t, pub.Messages())

	for i := 0; i < 2; i++ {
		rc, err = rt.Execute(context.Background(), host.Call{Signer: "portal", Receiver: "wormhole", Method: MethodPublishMessage, Args: PublishMessageArgs{Data: "0102", Nonce: 3}, Deposit: uint256.NewInt(10)})
		require.NoError(t, err)
		require.NoError(t, rc.Err())
		assert.Equal(t, uint64(i), rc.Result.Value)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, host.AccountID("portal"), msgs[1].Emitter)
	assert.Equal(t, uint64(1), msgs[1].Sequence)
	assert.Equal(t, []byte{1, 2}, msgs[1].Payload)
	assert.Equal(t, vaa.Address(emitterAddress("portal")), msgs[1].EmitterAddress)
	assert.Equal(t, vaa.ChainIDNear, msgs[1].VAA().EmitterChain)
	assert.Len(t, pub.Since(1), 1)
	assert.Equal(t, uint64(80), rt.Balance("portal").Uint64())

	fee, err := rt.View(context.Background(), "wormhole", MethodMessageFee, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fee.(*uint256.Int).Uint64())
}
