package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/portal"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const (
	apiCallTimeout  = 10 * time.Second
	requestIDHeader = "X-Request-Id"
)

type requestIDKey struct{}

// api exposes the portal entry points a relayer or a wallet needs over HTTP.
type api struct {
	logger *zap.Logger
	n      *Node
}

func newAPI(logger *zap.Logger, n *Node) *api {
	return &api{logger: logger.With(zap.String("component", "api")), n: n}
}

func (a *api) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.withRequestID)
	r.HandleFunc("/v1/accounts", a.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/v1/submit_vaa", a.submitVAA).Methods(http.MethodPost)
	r.HandleFunc("/v1/register_account", a.registerAccount).Methods(http.MethodPost)
	r.HandleFunc("/v1/emitter", a.emitter).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages", a.messages).Methods(http.MethodGet)
	r.HandleFunc("/v1/foreign_asset/{chain}/{address}", a.foreignAsset).Methods(http.MethodGet)
	r.HandleFunc("/v1/original_asset/{token}", a.originalAsset).Methods(http.MethodGet)
	r.HandleFunc("/v1/transfer_completed/{vaa}", a.transferCompleted).Methods(http.MethodGet)
	return r
}

// withRequestID tags every request with the caller's X-Request-Id, or a fresh one when it is missing
// or not a UUID, and echoes it back.
func (a *api) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(requestIDHeader))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set(requestIDHeader, id.String())
		a.logger.Debug("api request", zap.String("request_id", id.String()), zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id.String())))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

type response struct {
	OK        bool       `json:"ok"`
	Value     any        `json:"value,omitempty"`
	Error     string     `json:"error,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Transfers []movement `json:"transfers,omitempty"`
}

type movement struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// jsonValue renders balances as decimal strings.
func jsonValue(v any) any {
	switch v := v.(type) {
	case *uint256.Int:
		if v == nil {
			return "0"
		}
		return v.Dec()
	case host.AccountID:
		return string(v)
	case portal.BankBalance:
		return map[string]any{"registered": v.Registered, "balance": jsonValue(v.Balance)}
	case portal.OriginalAsset:
		return map[string]any{"address": v.Address, "chain": uint16(v.Chain)}
	case portal.EmitterInfo:
		return map[string]any{"account": string(v.Account), "hash": v.Hash}
	default:
		return v
	}
}

func (a *api) write(w http.ResponseWriter, status int, resp *response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (a *api) fail(w http.ResponseWriter, status int, err error) {
	a.write(w, status, &response{Error: err.Error()})
}

// failCall maps a portal rejection to 422 and anything else to 500.
func (a *api) failCall(w http.ResponseWriter, r *http.Request, err error, transfers []movement) {
	var pe *portal.Error
	if errors.As(err, &pe) {
		a.write(w, http.StatusUnprocessableEntity, &response{Error: err.Error(), Kind: pe.Kind.String(), Transfers: transfers})
		return
	}
	a.logger.Error("portal call failed", zap.String("request_id", requestID(r)), zap.Error(err))
	a.write(w, http.StatusInternalServerError, &response{Error: err.Error(), Transfers: transfers})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseDeposit(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return host.ParseBalance(s)
}

// execute runs call on the executor and answers with the result and the refunds it caused.
func (a *api) execute(w http.ResponseWriter, r *http.Request, call host.Call) {
	ctx, cancel := context.WithTimeout(r.Context(), apiCallTimeout)
	defer cancel()

	rc, err := a.n.exec.execute(ctx, call)
	if err != nil {
		a.logger.Warn("portal call not executed", zap.String("request_id", requestID(r)), zap.String("method", call.Method), zap.Error(err))
		a.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	var transfers []movement
	for _, m := range rc.Transfers() {
		transfers = append(transfers, movement{From: string(m.From), To: string(m.To), Amount: m.Amount.Dec()})
	}
	if err := rc.Err(); err != nil {
		a.failCall(w, r, err, transfers)
		return
	}
	a.write(w, http.StatusOK, &response{OK: true, Value: jsonValue(rc.Result.Value), Transfers: transfers})
}

func (a *api) view(w http.ResponseWriter, r *http.Request, method string, args any) {
	ctx, cancel := context.WithTimeout(r.Context(), apiCallTimeout)
	defer cancel()

	v, err := a.n.rt.View(ctx, a.n.settings.PortalAccount, method, args)
	if err != nil {
		a.failCall(w, r, err, nil)
		return
	}
	a.write(w, http.StatusOK, &response{OK: true, Value: jsonValue(v)})
}

// createAccountRequest carries an optional ed25519:<base58> full access key.
type createAccountRequest struct {
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	PublicKey string `json:"public_key"`
}

// createAccount funds a fresh account. The node runs a private host, so this is its faucet.
func (a *api) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Account == "" {
		a.fail(w, http.StatusBadRequest, errors.New("missing account"))
		return
	}
	balance, err := parseDeposit(req.Balance)
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	var keys []host.PublicKey
	if req.PublicKey != "" {
		pk, err := host.ParsePublicKey(req.PublicKey)
		if err != nil {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
		keys = append(keys, pk)
	}
	if err := a.n.rt.CreateAccount(host.AccountID(req.Account), balance, keys...); err != nil {
		a.fail(w, http.StatusConflict, err)
		return
	}
	a.logger.Info("account created", zap.String("request_id", requestID(r)), zap.String("account", req.Account), zap.String("balance", balance.Dec()))
	a.write(w, http.StatusOK, &response{OK: true, Value: req.Account})
}

type submitVAARequest struct {
	Signer  string `json:"signer"`
	VAA     string `json:"vaa"`
	Deposit string `json:"deposit"`
}

func (a *api) submitVAA(w http.ResponseWriter, r *http.Request) {
	var req submitVAARequest
	if err := decode(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := parseDeposit(req.Deposit)
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	a.execute(w, r, host.Call{
		Signer:   host.AccountID(req.Signer),
		Receiver: a.n.settings.PortalAccount,
		Method:   portal.MethodSubmitVAA,
		Args:     portal.SubmitVAAArgs{VAA: req.VAA},
		Deposit:  deposit,
		Gas:      300 * host.TGas,
	})
}

type registerAccountRequest struct {
	Signer  string `json:"signer"`
	Account string `json:"account"`
	Deposit string `json:"deposit"`
}

func (a *api) registerAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := parseDeposit(req.Deposit)
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	a.execute(w, r, host.Call{
		Signer:   host.AccountID(req.Signer),
		Receiver: a.n.settings.PortalAccount,
		Method:   portal.MethodRegisterAccount,
		Args:     portal.RegisterAccountArgs{Account: host.AccountID(req.Account)},
		Deposit:  deposit,
		Gas:      30 * host.TGas,
	})
}

func (a *api) emitter(w http.ResponseWriter, r *http.Request) {
	a.view(w, r, portal.MethodEmitter, nil)
}

type publishedMessage struct {
	ID       string `json:"id"`
	Sequence uint64 `json:"sequence"`
	Nonce    uint32 `json:"nonce"`
	Emitter  string `json:"emitter"`
	Payload  string `json:"payload"`
}

// messages lists what the core bridge published, starting at the since query parameter.
func (a *api) messages(w http.ResponseWriter, r *http.Request) {
	since := 0
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.fail(w, http.StatusBadRequest, fmt.Errorf("invalid since %q", s))
			return
		}
		since = n
	}
	out := []publishedMessage{}
	for _, m := range a.n.published.Since(since) {
		out = append(out, publishedMessage{
			ID:       m.MessageID(),
			Sequence: m.Sequence,
			Nonce:    m.Nonce,
			Emitter:  string(m.Emitter),
			Payload:  hex.EncodeToString(m.Payload),
		})
	}
	a.write(w, http.StatusOK, &response{OK: true, Value: out})
}

func (a *api) foreignAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chain, err := vaa.StringToKnownChainID(vars["chain"])
	if err != nil {
		n, perr := strconv.ParseUint(vars["chain"], 10, 16)
		if perr != nil {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
		chain = vaa.ChainID(n)
	}
	a.view(w, r, portal.MethodGetForeignAsset, portal.GetForeignAssetArgs{Address: vars["address"], Chain: chain})
}

func (a *api) originalAsset(w http.ResponseWriter, r *http.Request) {
	a.view(w, r, portal.MethodGetOriginalAsset, portal.GetOriginalAssetArgs{Token: host.AccountID(mux.Vars(r)["token"])})
}

func (a *api) transferCompleted(w http.ResponseWriter, r *http.Request) {
	a.view(w, r, portal.MethodIsTransferCompleted, portal.IsTransferCompletedArgs{VAA: mux.Vars(r)["vaa"]})
}
