// Package db persists the portal state in badger and meters the storage it occupies.
//
// All access goes through a Txn. The portal opens one per unit of execution and commits it only when
// the unit succeeded, so a failed unit leaves no trace in storage.
package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	recordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_db_records_written_total",
			Help: "Total number of portal records written to the database",
		})
	storageUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wormhole_portal_db_storage_bytes",
			Help: "Metered storage used by the portal state",
		})
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_db_cache_hits_total",
			Help: "Total number of registry lookups served from the cache",
		})
)

// RecordOverhead is charged for every stored record on top of its key and value bytes.
const RecordOverhead = 40

// cacheSize bounds the registry read cache.
const cacheSize = 4096

// Key prefixes used to isolate the different portal collections.
const (
	digestPrefix      = "PORTAL:DIGEST:V1:"
	emitterPrefix     = "PORTAL:EMITTER:V1:"
	tokenPrefix       = "PORTAL:TOKEN:V1:"
	tokenKeyPrefix    = "PORTAL:TOKENKEY:V1:"
	accountHashPrefix = "PORTAL:ACCOUNTHASH:V1:"
	bankPrefix        = "PORTAL:BANK:V1:"

	bootKey        = "PORTAL:BOOT:V1"
	lastAssetKey   = "PORTAL:LASTASSET:V1"
	upgradeHashKey = "PORTAL:UPGRADE:V1"
	codeKey        = "PORTAL:CODE:V1"

	// usageKey holds the metered total itself and is not metered.
	usageKey = "PORTAL:USAGE:V1"
)

var (
	ErrMarshal   = errors.New("portal db: marshal")
	ErrUnmarshal = errors.New("portal db: unmarshal")
	ErrTxnDone   = errors.New("portal db: transaction already finished")
)

// Operation represents a database operation type
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpCommit Operation = "commit"
)

type DBError struct {
	Op  Operation
	Key []byte
	Err error
}

func (e *DBError) Unwrap() error {
	return e.Err
}

func (e *DBError) Error() string {
	return fmt.Sprintf("portal database: %s key: %x error: %v", e.Op, e.Key, e.Err)
}

type PortalDB struct {
	logger *zap.Logger
	db     *badger.DB
	cache  *lru.Cache

	mu    sync.Mutex
	usage uint64
}

func open(logger *zap.Logger, opts badger.Options) (*PortalDB, error) {
	bdb, err := badger.Open(opts.WithLogger(newBadgerZapLogger(logger)))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	d := &PortalDB{logger: logger, db: bdb, cache: cache}
	err = bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usageKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("%w: usage record is %d bytes", ErrUnmarshal, len(val))
			}
			d.usage = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		bdb.Close()
		return nil, &DBError{Op: OpRead, Key: []byte(usageKey), Err: err}
	}

	storageUsage.Set(float64(d.usage))
	logger.Info("opened portal database", zap.Uint64("storageUsage", d.usage))
	return d, nil
}

func (d *PortalDB) Close() error {
	return d.db.Close()
}

// Usage returns the committed storage usage in bytes.
func (d *PortalDB) Usage() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usage
}

// Begin starts a read-write transaction.
func (d *PortalDB) Begin() *Txn {
	return d.begin(true)
}

// BeginRead starts a read-only transaction, used by view calls.
func (d *PortalDB) BeginRead() *Txn {
	return d.begin(false)
}

func (d *PortalDB) begin(update bool) *Txn {
	return &Txn{
		pdb:     d,
		txn:     d.db.NewTransaction(update),
		base:    d.Usage(),
		pending: make(map[string]string),
	}
}

// Txn is one unit of work against the portal state. Usage reflects the writes made so far.
type Txn struct {
	pdb   *PortalDB
	txn   *badger.Txn
	base  uint64
	delta int64
	// pending holds registry entries that enter the cache once the transaction commits.
	pending map[string]string
	writes  int
	done    bool
}

// Usage is the storage usage as it would be if the transaction committed now.
func (t *Txn) Usage() uint64 {
	return uint64(int64(t.base) + t.delta)
}

func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	d := t.pdb
	d.mu.Lock()
	defer d.mu.Unlock()

	total := uint64(int64(d.usage) + t.delta)
	if t.delta != 0 {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], total)
		if err := t.txn.Set([]byte(usageKey), buf[:]); err != nil {
			t.txn.Discard()
			return &DBError{Op: OpUpdate, Key: []byte(usageKey), Err: err}
		}
	}
	if err := t.txn.Commit(); err != nil {
		return &DBError{Op: OpCommit, Err: err}
	}

	d.usage = total
	for k, v := range t.pending {
		d.cache.Add(k, v)
	}
	recordsWritten.Add(float64(t.writes))
	storageUsage.Set(float64(total))
	return nil
}

// Discard drops every write of the transaction. It is safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

func recordSize(key, value []byte) int64 {
	return int64(len(key) + len(value) + RecordOverhead)
}

// get returns the value stored under key, including writes made earlier in this transaction.
func (t *Txn) get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &DBError{Op: OpRead, Key: key, Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, &DBError{Op: OpRead, Key: key, Err: err}
	}
	return val, true, nil
}

// set writes key and meters the change in stored bytes.
func (t *Txn) set(key, value []byte) error {
	old, found, err := t.get(key)
	if err != nil {
		return err
	}
	if err := t.txn.Set(key, value); err != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: err}
	}
	if found {
		t.delta -= recordSize(key, old)
	}
	t.delta += recordSize(key, value)
	t.writes++
	return nil
}

// insertIfAbsent writes key only when it does not exist yet and reports whether it did.
func (t *Txn) insertIfAbsent(key, value []byte) (bool, error) {
	_, found, err := t.get(key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := t.set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

// lookup serves append-only registries: committed entries never change, so they can be cached.
func (t *Txn) lookup(key []byte) (string, bool, error) {
	if v, ok := t.pdb.cache.Get(string(key)); ok {
		cacheHits.Inc()
		return v.(string), true, nil
	}
	val, found, err := t.get(key)
	if err != nil || !found {
		return "", found, err
	}
	return string(val), true, nil
}

func (t *Txn) insertRegistry(key []byte, value string) (bool, error) {
	inserted, err := t.insertIfAbsent(key, []byte(value))
	if err != nil || !inserted {
		return inserted, err
	}
	t.pending[string(key)] = value
	return true, nil
}
