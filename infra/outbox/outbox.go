// Package outbox is the durable record of on-chain work that has not been
// confirmed yet, plus the set of chain transactions already applied locally.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var (
	ErrAlreadyProcessed = errors.New("outbox: transaction already processed")
	errRecordLength     = errors.New("outbox: invalid record length")
)

// -------------------- State --------------------

type State uint8

const (
	StatePending State = iota
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Entry is one trader position in one market that still has to be mirrored.
type Entry struct {
	Market      string
	Trader      string
	State       State
	Attempts    uint32
	LastAttempt time.Time
}

// binary encoding: [state:1][attempts:4][lastAttempt:8]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 1+4+8)
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Attempts)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt.UnixNano()))
	return buf
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) != 13 {
		return Entry{}, errRecordLength
	}
	return Entry{
		State:       State(b[0]),
		Attempts:    binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: time.Unix(0, int64(binary.BigEndian.Uint64(b[5:13]))).UTC(),
	}, nil
}

// -------------------- Store --------------------

type Outbox struct {
	db *pebble.DB

	// guards read-modify-write of pending entries and tx claims
	mu sync.Mutex

	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory keeps everything in a memory filesystem. Used by tests and
// when no outbox directory is configured.
func OpenInMemory() (*Outbox, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Outbox, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %q: %w", dir, err)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- Pending syncs --------------------

// MarkPending records traders of a market as awaiting an on-chain mirror.
// Existing entries keep their attempt count and gain one attempt.
func (o *Outbox) MarkPending(market string, traders []string) error {
	return o.setState(market, traders, StatePending)
}

// MarkFailed records that the last attempt for these traders failed.
func (o *Outbox) MarkFailed(market string, traders []string) error {
	return o.setState(market, traders, StateFailed)
}

func (o *Outbox) setState(market string, traders []string, state State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()

	now := o.now()
	for _, trader := range traders {
		key := syncKey(market, trader)
		e, err := o.get(key)
		if err != nil {
			return err
		}
		if state == StatePending {
			e.Attempts++
		}
		e.State = state
		e.LastAttempt = now
		if err := b.Set(key, encodeEntry(e), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (o *Outbox) get(key []byte) (Entry, error) {
	val, closer, err := o.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()
	return decodeEntry(val)
}

// Clear removes entries once their positions are mirrored.
func (o *Outbox) Clear(market string, traders []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	for _, trader := range traders {
		if err := b.Delete(syncKey(market, trader), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Pending lists every unconfirmed entry, ordered by market then trader.
func (o *Outbox) Pending() ([]Entry, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(syncPrefix),
		UpperBound: []byte(syncUpper),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		e.Market, e.Trader, err = parseSyncKey(iter.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// -------------------- Processed transactions --------------------

// Claim marks a chain transaction as applied. It fails with
// ErrAlreadyProcessed if the hash was claimed before.
func (o *Outbox) Claim(txHash, kind string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := txKey(txHash)
	_, closer, err := o.db.Get(key)
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, txHash)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return o.db.Set(key, []byte(kind), pebble.Sync)
}

// Release undoes a Claim whose local effect could not be applied.
func (o *Outbox) Release(txHash string) error {
	return o.db.Delete(txKey(txHash), pebble.Sync)
}

func (o *Outbox) Processed(txHash string) (bool, error) {
	_, closer, err := o.db.Get(txKey(txHash))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// -------------------- Helpers --------------------

const (
	syncPrefix = "sync/"
	syncUpper  = "sync0" // '0' follows '/'
	txPrefix   = "tx/"
)

func syncKey(market, trader string) []byte {
	return []byte(syncPrefix + market + "/" + trader)
}

func parseSyncKey(b []byte) (market, trader string, err error) {
	rest := bytes.TrimPrefix(b, []byte(syncPrefix))
	i := bytes.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("outbox: malformed key %q", b)
	}
	return string(rest[:i]), string(rest[i+1:]), nil
}

func txKey(hash string) []byte {
	return []byte(txPrefix + hash)
}
