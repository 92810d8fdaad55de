package anchor

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crimewatch/internal/ledger"
)

type pendingLeaf struct {
	txHash string
	leaf   []byte
}

// Batcher collects leaves and anchors them once batchSize leaves are queued
// or maxWait has passed since the first one arrived.
type Batcher struct {
	writer    Writer
	batchSize int
	maxWait   time.Duration
	log       *zap.Logger

	in   chan pendingLeaf
	stop chan struct{}
	done chan struct{}
	once sync.Once

	// closeMu orders Add against Close: stop is only closed once no Add is
	// between its closed check and its send.
	closeMu sync.RWMutex
	closed  bool

	mu       sync.RWMutex
	receipts map[string]Receipt
	lastErr  error
}

func NewBatcher(w Writer, batchSize int, maxWait time.Duration, log *zap.Logger) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxWait <= 0 {
		maxWait = 25 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Batcher{
		writer:    w,
		batchSize: batchSize,
		maxWait:   maxWait,
		log:       log,
		in:        make(chan pendingLeaf, batchSize*4),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		receipts:  make(map[string]Receipt),
	}
	go b.loop()
	return b
}

// Close anchors whatever is still queued and stops the loop.
func (b *Batcher) Close() {
	b.once.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.stop)
		b.closeMu.Unlock()
	})
	<-b.done
}

// Add queues a 32-byte leaf for txHash. It does not wait for anchoring.
func (b *Batcher) Add(txHash string, leaf []byte) error {
	if len(leaf) != 32 {
		return fmt.Errorf("leaf must be 32 bytes, got %d", len(leaf))
	}
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrStopped
	}
	b.in <- pendingLeaf{txHash: txHash, leaf: leaf}
	return nil
}

// Settled queues confirmed transactions. Failed ones are never anchored.
func (b *Batcher) Settled(tx ledger.Transaction) {
	if tx.Status != ledger.StatusConfirmed {
		return
	}
	if err := b.Add(tx.Hash, Leaf(tx.Hash, tx.Payload)); err != nil {
		b.log.Warn("transaction not queued for anchoring", zap.String("hash", tx.Hash), zap.Error(err))
	}
}

func (b *Batcher) Receipt(txHash string) (Receipt, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNoReceipt, txHash)
	}
	return r, nil
}

// LastError returns the error of the most recent failed batch, if any.
func (b *Batcher) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *Batcher) flush(items []pendingLeaf) {
	if len(items) == 0 {
		return
	}
	leaves := make([][]byte, len(items))
	for i, it := range items {
		leaves[i] = it.leaf
	}

	t, err := buildTree(leaves)
	if err != nil {
		b.fail(len(items), err)
		return
	}
	rootHex := hex.EncodeToString(t.root())
	meta := fmt.Sprintf(
		"type=report_batch; root=%s; leaves=%d; leaf_algo=sha256(tx_hash||payload); node_algo=sha256(l||r); created_at=%s",
		rootHex, len(leaves), time.Now().UTC().Format(time.RFC3339Nano),
	)

	start := time.Now()
	txID, err := b.writer.Write(rootHex, meta)
	if err != nil {
		b.fail(len(items), fmt.Errorf("anchor write: %w", err))
		return
	}
	anchoredAt := time.Now().UTC()

	b.mu.Lock()
	for i, it := range items {
		proof, _ := t.proof(i)
		b.receipts[it.txHash] = Receipt{
			TxHash:     it.txHash,
			Leaf:       hex.EncodeToString(it.leaf),
			Root:       rootHex,
			AnchorTxID: txID,
			Index:      i,
			BatchSize:  len(items),
			Proof:      proof,
			AnchoredAt: anchoredAt,
		}
	}
	b.mu.Unlock()

	b.log.Info("batch anchored",
		zap.String("root", rootHex),
		zap.String("anchor_tx", txID),
		zap.Int("leaves", len(items)),
		zap.Duration("latency", time.Since(start)))
}

func (b *Batcher) fail(n int, err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.log.Error("batch not anchored", zap.Int("leaves", n), zap.Error(err))
}

func (b *Batcher) loop() {
	defer close(b.done)

	var (
		batch  []pendingLeaf
		timer  *time.Timer
		timerC <-chan time.Time
	)
	reset := func() {
		if timer != nil {
			timer.Stop()
		}
		batch, timer, timerC = nil, nil, nil
	}

	for {
		select {
		case it := <-b.in:
			batch = append(batch, it)
			if len(batch) == 1 {
				timer = time.NewTimer(b.maxWait)
				timerC = timer.C
			}
			if len(batch) >= b.batchSize {
				b.flush(batch)
				reset()
			}

		case <-timerC:
			b.flush(batch)
			reset()

		case <-b.stop:
		drain:
			for {
				select {
				case it := <-b.in:
					batch = append(batch, it)
				default:
					break drain
				}
			}
			b.flush(batch)
			reset()
			return
		}
	}
}
