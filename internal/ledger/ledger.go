package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrInvalidHash = errors.New("payload hash must be a hex encoded sha256 digest")
	ErrCorrupt     = errors.New("ledger chain is corrupt")
	ErrClosed      = errors.New("ledger is closed")
)

// Receipt identifies where a payload hash was committed.
type Receipt struct {
	Network string `json:"network"`
	TxID    string `json:"txid"`
	Block   int64  `json:"blockNumber"`
}

// Anchorer commits payload hashes to an append-only ledger. Anchoring the
// same hash twice must return the original receipt.
type Anchorer interface {
	Anchor(ctx context.Context, payloadHash string) (Receipt, error)
	Lookup(ctx context.Context, payloadHash string) (Receipt, bool, error)
}

// Block is one entry of the hash chain. The block hash doubles as the
// transaction id handed back to callers.
type Block struct {
	Index       int64  `json:"index"`
	PrevHash    string `json:"prev_hash"`
	Timestamp   string `json:"timestamp"`
	PayloadHash string `json:"payload_hash"`
	BlockHash   string `json:"block_hash"`
}

type blockHeader struct {
	Index       int64  `json:"index"`
	PrevHash    string `json:"prev_hash"`
	Timestamp   string `json:"timestamp"`
	PayloadHash string `json:"payload_hash"`
}

func (b Block) computeHash() string {
	data, _ := json.Marshal(blockHeader{
		Index:       b.Index,
		PrevHash:    b.PrevHash,
		Timestamp:   b.Timestamp,
		PayloadHash: b.PayloadHash,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const (
	keyHeight      = "height_latest"
	prefixBlock    = "block_"
	prefixAnchor   = "anchor_"
	genesisPayload = "genesis"
)

func blockKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, index))
}

func anchorKey(hash string) []byte {
	return []byte(prefixAnchor + hash)
}

// LevelLedger is a single-writer hash-chained block log stored in LevelDB.
type LevelLedger struct {
	network string
	db      *leveldb.DB
	mu      sync.Mutex
	closed  bool
	now     func() time.Time
}

// Open opens (or creates) the ledger at path. An empty path keeps the
// ledger in memory, which is only useful for development and tests.
func Open(path, network string) (*LevelLedger, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &LevelLedger{network: network, db: db, now: time.Now}
	if err := l.ensureGenesis(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *LevelLedger) Network() string {
	return l.network
}

func (l *LevelLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func (l *LevelLedger) ensureGenesis() error {
	if _, ok, err := l.height(); err != nil || ok {
		return err
	}
	genesis := Block{
		Index:       0,
		Timestamp:   l.now().UTC().Format(time.RFC3339Nano),
		PayloadHash: genesisPayload,
	}
	genesis.BlockHash = genesis.computeHash()
	return l.commit(genesis, "")
}

// Anchor appends a block for payloadHash, or returns the existing receipt
// when the hash was anchored before.
func (l *LevelLedger) Anchor(ctx context.Context, payloadHash string) (Receipt, error) {
	if !validHash(payloadHash) {
		return Receipt{}, ErrInvalidHash
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Receipt{}, ErrClosed
	}

	if r, ok, err := l.lookup(payloadHash); err != nil || ok {
		return r, err
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	height, ok, err := l.height()
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, ErrCorrupt
	}
	prev, err := l.block(height)
	if err != nil {
		return Receipt{}, err
	}

	b := Block{
		Index:       height + 1,
		PrevHash:    prev.BlockHash,
		Timestamp:   l.now().UTC().Format(time.RFC3339Nano),
		PayloadHash: payloadHash,
	}
	b.BlockHash = b.computeHash()
	if err := l.commit(b, payloadHash); err != nil {
		return Receipt{}, err
	}
	return l.receipt(b), nil
}

func (l *LevelLedger) Lookup(_ context.Context, payloadHash string) (Receipt, bool, error) {
	if !validHash(payloadHash) {
		return Receipt{}, false, ErrInvalidHash
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Receipt{}, false, ErrClosed
	}
	return l.lookup(payloadHash)
}

// Height returns the index of the latest block; the genesis block is 0.
func (l *LevelLedger) Height() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, _, err := l.height()
	return h, err
}

func (l *LevelLedger) Block(index int64) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block(index)
}

// Verify walks every block in order and checks indices, hashes and links.
// It returns the number of blocks checked.
func (l *LevelLedger) Verify() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixBlock)), nil)
	defer iter.Release()

	var (
		count    int64
		prevHash string
	)
	for iter.Next() {
		var b Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return count, fmt.Errorf("%w: block %d: %v", ErrCorrupt, count, err)
		}
		if b.Index != count {
			return count, fmt.Errorf("%w: expected block %d, found %d", ErrCorrupt, count, b.Index)
		}
		if b.PrevHash != prevHash {
			return count, fmt.Errorf("%w: block %d does not link to its predecessor", ErrCorrupt, b.Index)
		}
		if b.computeHash() != b.BlockHash {
			return count, fmt.Errorf("%w: block %d hash mismatch", ErrCorrupt, b.Index)
		}
		if b.Index > 0 {
			r, ok, err := l.lookup(b.PayloadHash)
			if err != nil {
				return count, err
			}
			if !ok || r.Block != b.Index {
				return count, fmt.Errorf("%w: anchor index for block %d is missing", ErrCorrupt, b.Index)
			}
		}
		prevHash = b.BlockHash
		count++
	}
	if err := iter.Error(); err != nil {
		return count, err
	}

	height, _, err := l.height()
	if err != nil {
		return count, err
	}
	if count != height+1 {
		return count, fmt.Errorf("%w: height %d but %d blocks", ErrCorrupt, height, count)
	}
	return count, nil
}

func (l *LevelLedger) commit(b Block, payloadHash string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Index), data)
	if payloadHash != "" {
		batch.Put(anchorKey(payloadHash), []byte(strconv.FormatInt(b.Index, 10)))
	}
	batch.Put([]byte(keyHeight), []byte(strconv.FormatInt(b.Index, 10)))
	return l.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (l *LevelLedger) lookup(payloadHash string) (Receipt, bool, error) {
	v, err := l.db.Get(anchorKey(payloadHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}
	index, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return Receipt{}, false, fmt.Errorf("%w: anchor index: %v", ErrCorrupt, err)
	}
	b, err := l.block(index)
	if err != nil {
		return Receipt{}, false, err
	}
	return l.receipt(b), true, nil
}

func (l *LevelLedger) height() (int64, bool, error) {
	v, err := l.db.Get([]byte(keyHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: height: %v", ErrCorrupt, err)
	}
	return h, true, nil
}

func (l *LevelLedger) block(index int64) (Block, error) {
	data, err := l.db.Get(blockKey(index), nil)
	if err != nil {
		return Block{}, fmt.Errorf("read block %d: %w", index, err)
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return Block{}, fmt.Errorf("%w: block %d: %v", ErrCorrupt, index, err)
	}
	return b, nil
}

func (l *LevelLedger) receipt(b Block) Receipt {
	return Receipt{Network: l.network, TxID: b.BlockHash, Block: b.Index}
}

func validHash(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
