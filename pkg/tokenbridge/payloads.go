// Package tokenbridge decodes and builds the fixed-layout token bridge payloads carried inside VAAs.
package tokenbridge

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

type PayloadID uint8

const (
	PayloadTransfer            PayloadID = 1
	PayloadAssetMeta           PayloadID = 2
	PayloadTransferWithPayload PayloadID = 3
)

func (p PayloadID) String() string {
	switch p {
	case PayloadTransfer:
		return "transfer"
	case PayloadAssetMeta:
		return "asset_meta"
	case PayloadTransferWithPayload:
		return "transfer_with_payload"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

const (
	// Lengths of the fixed layouts, payload id byte included.
	AssetMetaLength = 100
	TransferLength  = 133

	governanceHeaderLength = 35
	registerChainLength    = 69
	upgradeContractLength  = 67

	// upgradeCodeHashOffset skips the governance header. The first 32 bytes of every accepted
	// governance payload are TokenBridgeModule, so they cannot carry the code hash.
	upgradeCodeHashOffset = governanceHeaderLength
)

var (
	ErrPayloadTooShort = errors.New("payload too short")
	ErrWrongPayloadID  = errors.New("unexpected payload id")

	// TokenBridgeModule is "TokenBridge" left padded to 32 bytes.
	TokenBridgeModule = moduleTag("TokenBridge")
)

func moduleTag(name string) [32]byte {
	var m [32]byte
	copy(m[32-len(name):], name)
	return m
}

// IsGovernance reports whether the payload is addressed to the token bridge governance module.
func IsGovernance(payload []byte) bool {
	return len(payload) >= 32 && bytes.Equal(payload[:32], TokenBridgeModule[:])
}

type (
	// Governance is the common envelope of every token bridge governance payload.
	Governance struct {
		Module      [32]byte
		Action      vaa.GovernanceAction
		TargetChain vaa.ChainID
		Body        []byte
	}

	RegisterChain struct {
		TargetChain    vaa.ChainID
		EmitterChain   vaa.ChainID
		EmitterAddress vaa.Address
	}

	UpgradeContract struct {
		TargetChain vaa.ChainID
		CodeHash    [32]byte
	}

	// Transfer describes payload 1 (fee bearing) and payload 3 (contract call carrying) transfers.
	// Amount and Fee hold the low 128 bits of the wire value, Truncated is set when the high bits were not zero.
	Transfer struct {
		PayloadID      PayloadID
		Amount         *uint256.Int
		TokenAddress   vaa.Address
		TokenChain     vaa.ChainID
		Recipient      vaa.Address
		RecipientChain vaa.ChainID
		Fee            *uint256.Int
		FromAddress    vaa.Address
		Payload        []byte
		Truncated      bool
	}

	AssetMeta struct {
		TokenAddress vaa.Address
		TokenChain   vaa.ChainID
		Decimals     uint8
		Symbol       [32]byte
		Name         [32]byte
		// Raw is the body after the payload id, kept so it can be replayed into the wrapped token.
		Raw []byte
	}
)

func DecodeGovernance(payload []byte) (*Governance, error) {
	if len(payload) < governanceHeaderLength {
		return nil, fmt.Errorf("governance: %w: %d < %d", ErrPayloadTooShort, len(payload), governanceHeaderLength)
	}
	g := &Governance{
		Action:      vaa.GovernanceAction(payload[32]),
		TargetChain: vaa.ChainID(binary.BigEndian.Uint16(payload[33:35])),
		Body:        payload[governanceHeaderLength:],
	}
	copy(g.Module[:], payload[:32])
	return g, nil
}

func DecodeRegisterChain(payload []byte) (*RegisterChain, error) {
	if len(payload) < registerChainLength {
		return nil, fmt.Errorf("register chain: %w: %d < %d", ErrPayloadTooShort, len(payload), registerChainLength)
	}
	r := &RegisterChain{
		TargetChain:  vaa.ChainID(binary.BigEndian.Uint16(payload[33:35])),
		EmitterChain: vaa.ChainID(binary.BigEndian.Uint16(payload[35:37])),
	}
	copy(r.EmitterAddress[:], payload[37:69])
	return r, nil
}

// DecodeUpgradeContract reads the new code hash from the first 32 bytes after the governance header.
func DecodeUpgradeContract(payload []byte) (*UpgradeContract, error) {
	if len(payload) < upgradeContractLength {
		return nil, fmt.Errorf("upgrade contract: %w: %d < %d", ErrPayloadTooShort, len(payload), upgradeContractLength)
	}
	u := &UpgradeContract{
		TargetChain: vaa.ChainID(binary.BigEndian.Uint16(payload[33:35])),
	}
	copy(u.CodeHash[:], payload[upgradeCodeHashOffset:upgradeCodeHashOffset+32])
	return u, nil
}

func (r *RegisterChain) Serialize() []byte {
	buf := governanceHeader(vaa.ActionRegisterChain, r.TargetChain)
	vaa.MustWrite(buf, binary.BigEndian, r.EmitterChain)
	buf.Write(r.EmitterAddress[:])
	return buf.Bytes()
}

func (u *UpgradeContract) Serialize() []byte {
	buf := governanceHeader(vaa.ActionUpgradeTokenBridge, u.TargetChain)
	buf.Write(u.CodeHash[:])
	return buf.Bytes()
}

func governanceHeader(action vaa.GovernanceAction, target vaa.ChainID) *bytes.Buffer {
	buf := new(bytes.Buffer)
	buf.Write(TokenBridgeModule[:])
	vaa.MustWrite(buf, binary.BigEndian, action)
	vaa.MustWrite(buf, binary.BigEndian, target)
	return buf
}

// amount128 keeps the low 128 bits of a 32 byte big endian integer.
func amount128(b []byte) (*uint256.Int, bool) {
	high := new(uint256.Int).SetBytes16(b[:16])
	return new(uint256.Int).SetBytes16(b[16:32]), !high.IsZero()
}

// DecodeTransfer parses payload 1 and payload 3 transfers. Offsets are relative to the byte after the payload id.
func DecodeTransfer(payload []byte) (*Transfer, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("transfer: %w", ErrPayloadTooShort)
	}
	id := PayloadID(payload[0])
	if id != PayloadTransfer && id != PayloadTransferWithPayload {
		return nil, fmt.Errorf("transfer: %w: %s", ErrWrongPayloadID, id)
	}
	if len(payload) < TransferLength {
		return nil, fmt.Errorf("transfer: %w: %d < %d", ErrPayloadTooShort, len(payload), TransferLength)
	}

	data := payload[1:]
	t := &Transfer{
		PayloadID:      id,
		TokenChain:     vaa.ChainID(binary.BigEndian.Uint16(data[64:66])),
		RecipientChain: vaa.ChainID(binary.BigEndian.Uint16(data[98:100])),
		Fee:            new(uint256.Int),
	}
	var high bool
	t.Amount, high = amount128(data[0:32])
	copy(t.TokenAddress[:], data[32:64])
	copy(t.Recipient[:], data[66:98])

	if id == PayloadTransfer {
		var feeHigh bool
		t.Fee, feeHigh = amount128(data[100:132])
		high = high || feeHigh
	} else {
		copy(t.FromAddress[:], data[100:132])
		t.Payload = data[132:]
	}
	t.Truncated = high
	return t, nil
}

// Serialize builds the wire form. The layout size is fixed, a mismatch means the builder itself is broken.
func (t *Transfer) Serialize() []byte {
	buf := new(bytes.Buffer)
	vaa.MustWrite(buf, binary.BigEndian, uint8(t.PayloadID))
	writeAmount(buf, t.Amount)
	buf.Write(t.TokenAddress[:])
	vaa.MustWrite(buf, binary.BigEndian, t.TokenChain)
	buf.Write(t.Recipient[:])
	vaa.MustWrite(buf, binary.BigEndian, t.RecipientChain)

	want := TransferLength
	switch t.PayloadID {
	case PayloadTransfer:
		writeAmount(buf, t.Fee)
	case PayloadTransferWithPayload:
		buf.Write(t.FromAddress[:])
		buf.Write(t.Payload)
		want += len(t.Payload)
	default:
		panic(fmt.Sprintf("tokenbridge: cannot serialize transfer with payload id %d", t.PayloadID))
	}

	if buf.Len() != want {
		panic(fmt.Sprintf("tokenbridge: transfer payload is %d bytes, expected %d", buf.Len(), want))
	}
	return buf.Bytes()
}

func writeAmount(buf *bytes.Buffer, v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	buf.Write(b[:])
}

// DecodeAssetMeta parses payload 2. Offsets are relative to the byte after the payload id.
func DecodeAssetMeta(payload []byte) (*AssetMeta, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("asset meta: %w", ErrPayloadTooShort)
	}
	if PayloadID(payload[0]) != PayloadAssetMeta {
		return nil, fmt.Errorf("asset meta: %w: %s", ErrWrongPayloadID, PayloadID(payload[0]))
	}
	return DecodeAssetMetaBody(payload[1:])
}

// DecodeAssetMetaBody parses an asset meta body without its payload id, as stored in a token record.
func DecodeAssetMetaBody(data []byte) (*AssetMeta, error) {
	if len(data) < AssetMetaLength-1 {
		return nil, fmt.Errorf("asset meta: %w: %d < %d", ErrPayloadTooShort, len(data), AssetMetaLength-1)
	}
	m := &AssetMeta{
		TokenChain: vaa.ChainID(binary.BigEndian.Uint16(data[32:34])),
		Decimals:   data[34],
		Raw:        append([]byte(nil), data[:AssetMetaLength-1]...),
	}
	copy(m.TokenAddress[:], data[0:32])
	copy(m.Symbol[:], data[35:67])
	copy(m.Name[:], data[67:99])
	return m, nil
}

func (m *AssetMeta) Serialize() []byte {
	buf := new(bytes.Buffer)
	vaa.MustWrite(buf, binary.BigEndian, uint8(PayloadAssetMeta))
	buf.Write(m.TokenAddress[:])
	vaa.MustWrite(buf, binary.BigEndian, m.TokenChain)
	vaa.MustWrite(buf, binary.BigEndian, m.Decimals)
	buf.Write(m.Symbol[:])
	buf.Write(m.Name[:])

	if buf.Len() != AssetMetaLength {
		panic(fmt.Sprintf("tokenbridge: asset meta payload is %d bytes, expected %d", buf.Len(), AssetMetaLength))
	}
	return buf.Bytes()
}

func (m *AssetMeta) SymbolString() string {
	return TrimString32(m.Symbol)
}

func (m *AssetMeta) NameString() string {
	return TrimString32(m.Name)
}

// TokenKey is the registry key of a foreign asset: its 32 byte address followed by the big endian chain id.
func TokenKey(address vaa.Address, chain vaa.ChainID) []byte {
	key := make([]byte, 34)
	copy(key, address[:])
	binary.BigEndian.PutUint16(key[32:], uint16(chain))
	return key
}

// AccountHash is the 32 byte handle foreign chains use to address a local account.
func AccountHash(account string) vaa.Address {
	return sha256.Sum256([]byte(account))
}

// PadString32 right pads s with zero bytes, truncating anything past 32 bytes.
func PadString32(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

// TrimString32 drops the zero padding of a fixed 32 byte string field.
func TrimString32(b [32]byte) string {
	return strings.TrimRight(string(b[:]), "\x00")
}

// LeftPadAddress decodes a hex address of up to 32 bytes and left pads it with zeros.
func LeftPadAddress(s string) (vaa.Address, error) {
	var out vaa.Address
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) > 32 {
		return out, fmt.Errorf("address %q is longer than 32 bytes", s)
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}
