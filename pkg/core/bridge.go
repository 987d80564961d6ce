// Package core is the Wormhole core bridge as the portal sees it: it verifies guardian signed VAAs and
// publishes the messages the portal emits.
package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const (
	MethodVerifyVAA      = "verify_vaa"
	MethodPublishMessage = "publish_message"
	MethodMessageFee     = "message_fee"
)

var (
	ErrMessageFee   = errors.New("attached deposit does not cover the message fee")
	ErrInvalidData  = errors.New("invalid message data")
	ErrBadArgs      = errors.New("unexpected arguments")
	ErrUnknownCall  = errors.New("unknown method")
	ErrVerification = errors.New("vaa verification failed")
)

var (
	vaasVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_core_vaas_verified_total",
			Help: "Total number of VAAs checked by the core bridge",
		}, []string{"status"})
	messagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_core_messages_published_total",
			Help: "Total number of messages published through the core bridge",
		})
)

type (
	VerifyVAAArgs struct {
		// VAA is the hex encoded signed VAA.
		VAA string
	}

	PublishMessageArgs struct {
		// Data is the hex encoded payload.
		Data  string
		Nonce uint32
	}
)

// Message is a published payload together with the emitter information the guardians will sign over.
type Message struct {
	Emitter        host.AccountID
	EmitterAddress vaa.Address
	Sequence       uint64
	Nonce          uint32
	Payload        []byte
	BlockHeight    uint64
	Timestamp      time.Time
}

func (m *Message) MessageID() string {
	return fmt.Sprintf("%d/%s/%d", vaa.ChainIDNear, m.EmitterAddress, m.Sequence)
}

// VAA returns the unsigned VAA the guardians would produce for the message.
func (m *Message) VAA() *vaa.VAA {
	return &vaa.VAA{
		Version:        vaa.SupportedVAAVersion,
		Timestamp:      m.Timestamp,
		Nonce:          m.Nonce,
		Sequence:       m.Sequence,
		EmitterChain:   vaa.ChainIDNear,
		EmitterAddress: m.EmitterAddress,
		Payload:        m.Payload,
	}
}

// Bridge is the core bridge contract.
type Bridge struct {
	logger     *zap.Logger
	verifier   *Verifier
	publisher  Publisher
	messageFee *uint256.Int

	mu        sync.Mutex
	sequences map[host.AccountID]uint64
}

func NewBridge(logger *zap.Logger, verifier *Verifier, publisher Publisher, messageFee *uint256.Int) *Bridge {
	fee := new(uint256.Int)
	if messageFee != nil {
		fee.Set(messageFee)
	}
	return &Bridge{
		logger:     logger,
		verifier:   verifier,
		publisher:  publisher,
		messageFee: fee,
		sequences:  make(map[host.AccountID]uint64),
	}
}

func (b *Bridge) Call(env *host.Env, method string, args any, prev *host.Result) (*host.Outcome, error) {
	switch method {
	case MethodVerifyVAA:
		a, ok := args.(VerifyVAAArgs)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrBadArgs, args)
		}
		return b.verifyVAA(a)
	case MethodPublishMessage:
		a, ok := args.(PublishMessageArgs)
		if !ok {
			return host.Refund(env.Predecessor, env.Attached()), fmt.Errorf("%w: %T", ErrBadArgs, args)
		}
		out, err := b.publishMessage(env, a)
		if err != nil {
			return host.Refund(env.Predecessor, env.Attached()), err
		}
		return out, nil
	case MethodMessageFee:
		return host.Value(new(uint256.Int).Set(b.messageFee)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCall, method)
}

// verifyVAA resolves to the current guardian set index.
func (b *Bridge) verifyVAA(a VerifyVAAArgs) (*host.Outcome, error) {
	raw, err := hex.DecodeString(a.VAA)
	if err != nil {
		vaasVerified.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	v, current, err := b.verifier.Verify(raw)
	if err != nil {
		vaasVerified.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	vaasVerified.WithLabelValues("verified").Inc()
	b.logger.Debug("verified vaa", zap.String("message_id", v.MessageID()), zap.String("digest", v.HexDigest()))
	return host.Value(current), nil
}

func (b *Bridge) publishMessage(env *host.Env, a PublishMessageArgs) (*host.Outcome, error) {
	if env.Attached().Lt(b.messageFee) {
		return nil, fmt.Errorf("%w: attached %s, fee %s", ErrMessageFee, env.Attached().Dec(), b.messageFee.Dec())
	}
	payload, err := hex.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	b.mu.Lock()
	seq := b.sequences[env.Predecessor]
	msg := &Message{
		Emitter:        env.Predecessor,
		EmitterAddress: vaa.Address(emitterAddress(env.Predecessor)),
		Sequence:       seq,
		Nonce:          a.Nonce,
		Payload:        payload,
		BlockHeight:    env.BlockHeight,
		Timestamp:      time.Now(),
	}
	if err := b.publisher.Publish(msg); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	b.sequences[env.Predecessor] = seq + 1
	b.mu.Unlock()

	messagesPublished.Inc()
	return host.Value(seq), nil
}
