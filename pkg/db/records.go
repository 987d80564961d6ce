package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"github.com/near/borsh-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// TokenRecord describes a bridged asset known to the portal.
type TokenRecord struct {
	// RawMetadata is the asset meta body of the latest attestation, empty for local tokens.
	RawMetadata []byte
	Decimals    uint8
	// OriginAddress is the hex encoded 32 byte address on the origin chain.
	OriginAddress string
	OriginChain   vaa.ChainID
	// Sequence is the VAA sequence of the latest accepted attestation.
	Sequence uint64
}

// BootState is written once when the portal is booted.
type BootState struct {
	Booted   bool
	Core     host.AccountID
	OwnerKey host.PublicKey
}

type bankRecord struct {
	Balance big.Int
}

func digestKey(hash [32]byte) []byte {
	return append([]byte(digestPrefix), hash[:]...)
}

func emitterKey(chain vaa.ChainID) []byte {
	return binary.BigEndian.AppendUint16([]byte(emitterPrefix), uint16(chain))
}

func tokenRecordKey(account host.AccountID) []byte {
	return append([]byte(tokenPrefix), string(account)...)
}

func tokenKeyKey(tokenKey []byte) []byte {
	return append([]byte(tokenKeyPrefix), tokenKey...)
}

func accountHashKey(hash vaa.Address) []byte {
	return append([]byte(accountHashPrefix), hash[:]...)
}

func bankKey(account host.AccountID) []byte {
	return append([]byte(bankPrefix), string(account)...)
}

func marshal(key []byte, v interface{}) ([]byte, error) {
	b, err := borsh.Serialize(v)
	if err != nil {
		return nil, &DBError{Op: OpUpdate, Key: key, Err: errors.Join(ErrMarshal, err)}
	}
	return b, nil
}

func unmarshal(key []byte, data []byte, v interface{}) error {
	if err := borsh.Deserialize(v, data); err != nil {
		return &DBError{Op: OpRead, Key: key, Err: errors.Join(ErrUnmarshal, err)}
	}
	return nil
}

// InsertDigest marks a VAA digest as consumed. It reports false if the digest was already present.
func (t *Txn) InsertDigest(hash [32]byte) (bool, error) {
	return t.insertIfAbsent(digestKey(hash), []byte{1})
}

func (t *Txn) HasDigest(hash [32]byte) (bool, error) {
	_, found, err := t.get(digestKey(hash))
	return found, err
}

// RegisterEmitter records the trusted emitter of a chain. An existing registration is never replaced.
func (t *Txn) RegisterEmitter(chain vaa.ChainID, address vaa.Address) (bool, error) {
	return t.insertIfAbsent(emitterKey(chain), address[:])
}

func (t *Txn) GetEmitter(chain vaa.ChainID) (vaa.Address, bool, error) {
	var addr vaa.Address
	key := emitterKey(chain)
	val, found, err := t.get(key)
	if err != nil || !found {
		return addr, found, err
	}
	if len(val) != len(addr) {
		return addr, false, &DBError{Op: OpRead, Key: key, Err: fmt.Errorf("%w: emitter is %d bytes", ErrUnmarshal, len(val))}
	}
	copy(addr[:], val)
	return addr, true, nil
}

func (t *Txn) PutToken(account host.AccountID, rec *TokenRecord) error {
	key := tokenRecordKey(account)
	b, err := marshal(key, *rec)
	if err != nil {
		return err
	}
	return t.set(key, b)
}

func (t *Txn) GetToken(account host.AccountID) (*TokenRecord, bool, error) {
	key := tokenRecordKey(account)
	val, found, err := t.get(key)
	if err != nil || !found {
		return nil, found, err
	}
	var rec TokenRecord
	if err := unmarshal(key, val, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// InsertTokenKey maps a token key to the local account of the asset, insert only.
func (t *Txn) InsertTokenKey(tokenKey []byte, account host.AccountID) (bool, error) {
	return t.insertRegistry(tokenKeyKey(tokenKey), string(account))
}

func (t *Txn) GetTokenKey(tokenKey []byte) (host.AccountID, bool, error) {
	v, found, err := t.lookup(tokenKeyKey(tokenKey))
	return host.AccountID(v), found, err
}

// InsertAccountHash maps the hash of an account id back to the account, insert only.
func (t *Txn) InsertAccountHash(hash vaa.Address, account host.AccountID) (bool, error) {
	return t.insertRegistry(accountHashKey(hash), string(account))
}

func (t *Txn) GetAccountHash(hash vaa.Address) (host.AccountID, bool, error) {
	v, found, err := t.lookup(accountHashKey(hash))
	return host.AccountID(v), found, err
}

// GetBank returns the prepaid balance of account and whether the account registered a bank at all.
func (t *Txn) GetBank(account host.AccountID) (*uint256.Int, bool, error) {
	key := bankKey(account)
	val, found, err := t.get(key)
	if err != nil || !found {
		return new(uint256.Int), found, err
	}
	var rec bankRecord
	if err := unmarshal(key, val, &rec); err != nil {
		return nil, false, err
	}
	balance, overflow := uint256.FromBig(&rec.Balance)
	if overflow {
		return nil, false, &DBError{Op: OpRead, Key: key, Err: fmt.Errorf("%w: balance overflow", ErrUnmarshal)}
	}
	return balance, true, nil
}

func (t *Txn) PutBank(account host.AccountID, balance *uint256.Int) error {
	key := bankKey(account)
	rec := bankRecord{}
	rec.Balance.Set(balance.ToBig())
	b, err := marshal(key, rec)
	if err != nil {
		return err
	}
	return t.set(key, b)
}

func (t *Txn) GetBootState() (*BootState, bool, error) {
	key := []byte(bootKey)
	val, found, err := t.get(key)
	if err != nil || !found {
		return &BootState{}, found, err
	}
	var s BootState
	if err := unmarshal(key, val, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (t *Txn) PutBootState(s *BootState) error {
	key := []byte(bootKey)
	b, err := marshal(key, *s)
	if err != nil {
		return err
	}
	return t.set(key, b)
}

func (t *Txn) LastAssetID() (uint32, error) {
	key := []byte(lastAssetKey)
	val, found, err := t.get(key)
	if err != nil || !found {
		return 0, err
	}
	var id uint32
	if err := unmarshal(key, val, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// NextAssetID increments the asset counter and returns the new value.
func (t *Txn) NextAssetID() (uint32, error) {
	id, err := t.LastAssetID()
	if err != nil {
		return 0, err
	}
	id++
	key := []byte(lastAssetKey)
	b, err := marshal(key, id)
	if err != nil {
		return 0, err
	}
	if err := t.set(key, b); err != nil {
		return 0, err
	}
	return id, nil
}

// SetUpgradeHash replaces the pending upgrade hash. There is a single slot.
func (t *Txn) SetUpgradeHash(hash [32]byte) error {
	return t.set([]byte(upgradeHashKey), hash[:])
}

func (t *Txn) GetUpgradeHash() ([32]byte, bool, error) {
	var h [32]byte
	key := []byte(upgradeHashKey)
	val, found, err := t.get(key)
	if err != nil || !found {
		return h, found, err
	}
	if len(val) != len(h) {
		return h, false, &DBError{Op: OpRead, Key: key, Err: fmt.Errorf("%w: upgrade hash is %d bytes", ErrUnmarshal, len(val))}
	}
	copy(h[:], val)
	return h, true, nil
}

// SetContractCode records the code of the last upgrade so that its storage is metered like any record.
func (t *Txn) SetContractCode(code []byte) error {
	return t.set([]byte(codeKey), code)
}

func (t *Txn) GetContractCode() ([]byte, bool, error) {
	return t.get([]byte(codeKey))
}

// ContractCodeSize is what SetContractCode adds to the usage when no code was stored before.
func ContractCodeSize(code []byte) int64 {
	return recordSize([]byte(codeKey), code)
}
