// Package anchor rolls confirmed ledger transactions into Merkle batches and
// writes each batch root to an external ledger.
package anchor

import (
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("anchor batcher stopped")
	ErrNoReceipt = errors.New("transaction not anchored")
)

// Writer persists a batch root and returns the anchoring transaction id.
type Writer interface {
	Write(root string, metadata string) (txID string, err error)
}

// Receipt proves a transaction was included in an anchored batch.
type Receipt struct {
	TxHash     string      `json:"txHash"`
	Leaf       string      `json:"leaf"`
	Root       string      `json:"root"`
	AnchorTxID string      `json:"anchorTxId"`
	Index      int         `json:"index"`
	BatchSize  int         `json:"batchSize"`
	Proof      []ProofStep `json:"proof"`
	AnchoredAt time.Time   `json:"anchoredAt"`
}
