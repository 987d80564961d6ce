package node

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/portal"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

type testNode struct {
	n        *Node
	server   *httptest.Server
	guardian *ecdsa.PrivateKey
	sequence uint64
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	guardian, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := &settings{
		PortalAccount:   "portal.test",
		CoreAccount:     "core.test",
		OwnerKey:        host.PublicKeyFromEd25519(pub),
		StorageByteCost: uint256.NewInt(1),
		MessageFee:      new(uint256.Int),
		GuardianSet:     &core.GuardianSet{Index: 0, Keys: []common.Address{crypto.PubkeyToAddress(guardian.PublicKey)}},
	}
	logger := zap.NewNop()
	n, err := newNode(logger, s)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = n.exec.run(ctx) }()
	require.NoError(t, n.boot(ctx))

	server := httptest.NewServer(newAPI(logger, n).router())
	t.Cleanup(server.Close)
	return &testNode{n: n, server: server, guardian: guardian}
}

func (tn *testNode) governance(t *testing.T, payload []byte) string {
	t.Helper()
	tn.sequence++
	v := &vaa.VAA{
		Version:          vaa.SupportedVAAVersion,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(1700000000, 0),
		Nonce:            1,
		Sequence:         tn.sequence,
		ConsistencyLevel: 1,
		EmitterChain:     vaa.ChainIDSolana,
		EmitterAddress:   portal.GovernanceEmitter,
		Payload:          payload,
	}
	v.AddSignature(tn.guardian, 0)
	raw, err := v.Marshal()
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func (tn *testNode) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, tn.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestBootIsIdempotentAcrossRestarts(t *testing.T) {
	tn := newTestNode(t)
	// The database already records the boot, so a second boot is a no-op rather than a rejection.
	require.NoError(t, tn.n.boot(context.Background()))
}

func TestSubmitGovernanceThroughAPI(t *testing.T) {
	tn := newTestNode(t)

	status, out := tn.do(t, http.MethodPost, "/v1/accounts", map[string]string{"account": "relayer.test", "balance": "1000000000"})
	require.Equal(t, http.StatusOK, status, out)

	emitter := vaa.Address{12: 0xaa, 31: 0x01}
	payload := (&tokenbridge.RegisterChain{EmitterChain: vaa.ChainIDEthereum, EmitterAddress: emitter}).Serialize()
	signed := tn.governance(t, payload)

	status, out = tn.do(t, http.MethodGet, "/v1/transfer_completed/"+signed, nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, false, out["value"])

	status, out = tn.do(t, http.MethodPost, "/v1/submit_vaa", map[string]string{"signer": "relayer.test", "vaa": signed, "deposit": "100000"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["ok"])

	status, out = tn.do(t, http.MethodGet, "/v1/transfer_completed/"+signed, nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["value"])

	status, out = tn.do(t, http.MethodPost, "/v1/submit_vaa", map[string]string{"signer": "relayer.test", "vaa": signed, "deposit": "100000"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "replay", out["kind"])
	assert.NotEmpty(t, out["transfers"])
}

func TestAPIRejections(t *testing.T) {
	tn := newTestNode(t)

	status, out := tn.do(t, http.MethodPost, "/v1/accounts", map[string]string{"account": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing account", out["error"])

	status, _ = tn.do(t, http.MethodPost, "/v1/accounts", map[string]string{"account": "portal.test"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = tn.do(t, http.MethodPost, "/v1/submit_vaa", map[string]string{"signer": "x", "deposit": "lots"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = tn.do(t, http.MethodGet, "/v1/transfer_completed/zz", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "format", out["kind"])

	status, out = tn.do(t, http.MethodGet, "/v1/original_asset/nope.test", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "unknown_asset", out["kind"])

	status, _ = tn.do(t, http.MethodGet, "/v1/messages?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAccountRegistrationAndViews(t *testing.T) {
	tn := newTestNode(t)

	status, out := tn.do(t, http.MethodPost, "/v1/accounts", map[string]string{"account": "alice.test", "balance": "1000000"})
	require.Equal(t, http.StatusOK, status, out)

	status, out = tn.do(t, http.MethodPost, "/v1/register_account", map[string]string{"signer": "alice.test", "account": "alice.test", "deposit": "10000"})
	require.Equal(t, http.StatusOK, status, out)
	hash := tokenbridge.AccountHash("alice.test")
	assert.Equal(t, hex.EncodeToString(hash[:]), out["value"])

	status, out = tn.do(t, http.MethodGet, "/v1/emitter", nil)
	require.Equal(t, http.StatusOK, status, out)
	emitter := tokenbridge.AccountHash("portal.test")
	assert.Equal(t, map[string]any{"account": "portal.test", "hash": hex.EncodeToString(emitter[:])}, out["value"])

	status, out = tn.do(t, http.MethodGet, "/v1/foreign_asset/ethereum/00000000000000000000000000000000000000000000000000000000000000ff", nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Nil(t, out["value"])

	status, out = tn.do(t, http.MethodGet, "/v1/messages", nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Nil(t, out["value"])
}

func TestRequestIDs(t *testing.T) {
	tn := newTestNode(t)

	get := func(id string) string {
		req, err := http.NewRequest(http.MethodGet, tn.server.URL+"/v1/emitter", nil)
		require.NoError(t, err)
		if id != "" {
			req.Header.Set(requestIDHeader, id)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return resp.Header.Get(requestIDHeader)
	}

	first, second := get(""), get("")
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	supplied := uuid.New().String()
	assert.Equal(t, supplied, get(supplied))

	replaced := get("not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", replaced)
	_, err = uuid.Parse(replaced)
	assert.NoError(t, err)
}

func TestStatusRouterExportsPortalMetrics(t *testing.T) {
	tn := newTestNode(t)
	status, out := tn.do(t, http.MethodPost, "/v1/accounts", map[string]string{"account": "relayer.test", "balance": "1000000000"})
	require.Equal(t, http.StatusOK, status, out)
	status, _ = tn.do(t, http.MethodPost, "/v1/submit_vaa", map[string]string{"signer": "relayer.test", "vaa": "zz", "deposit": "100000"})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	server := httptest.NewServer(statusRouter())
	defer server.Close()
	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	rejected, ok := families["wormhole_portal_calls_rejected_total"]
	require.True(t, ok)

	var total float64
	for _, m := range rejected.GetMetric() {
		require.Equal(t, "kind", m.GetLabel()[0].GetName())
		total += m.GetCounter().GetValue()
	}
	assert.GreaterOrEqual(t, total, 1.0)
}
