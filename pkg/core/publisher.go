package core

import (
	"crypto/sha256"
	"sync"

	"github.com/certusone/wormhole/portal/pkg/host"
	"go.uber.org/zap"
)

// Publisher receives every message the core bridge accepts.
type Publisher interface {
	Publish(msg *Message) error
}

func emitterAddress(account host.AccountID) [32]byte {
	return sha256.Sum256([]byte(account))
}

// MemoryPublisher keeps published messages in memory, in order.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []*Message
}

func (p *MemoryPublisher) Publish(msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *MemoryPublisher) Messages() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Message(nil), p.messages...)
}

// Since returns the messages published after the first n.
func (p *MemoryPublisher) Since(n int) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n >= len(p.messages) {
		return nil
	}
	return append([]*Message(nil), p.messages[n:]...)
}

// LogPublisher logs every message and forwards it to Next, if set.
type LogPublisher struct {
	Logger *zap.Logger
	Next   Publisher
}

func (p *LogPublisher) Publish(msg *Message) error {
	v := msg.VAA()
	p.Logger.Info("message published",
		zap.String("message_id", msg.MessageID()),
		zap.Stringer("emitter", msg.Emitter),
		zap.Uint32("nonce", msg.Nonce),
		zap.Int("payload_len", len(msg.Payload)),
		zap.String("digest", v.HexDigest()),
	)
	if p.Next != nil {
		return p.Next.Publish(msg)
	}
	return nil
}
