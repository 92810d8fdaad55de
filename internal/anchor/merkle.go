package anchor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ProofStep is one sibling on the path from a leaf to the root.
// Side "L" means the sibling is hashed on the left: H = sha256(sibling || current);
// side "R" means H = sha256(current || sibling).
type ProofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

// Leaf commits to a transaction hash and its payload.
func Leaf(txHash string, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(txHash))
	h.Write(payload)
	return h.Sum(nil)
}

func hashPair(left, right []byte) []byte {
	sum := sha256.Sum256(append(append(make([]byte, 0, len(left)+len(right)), left...), right...))
	return sum[:]
}

// tree holds every level, leaves first. Odd levels pair their last node
// with itself.
type tree [][][]byte

func buildTree(leaves [][]byte) (tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("no leaves")
	}
	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		if len(l) != sha256.Size {
			return nil, fmt.Errorf("leaf %d is %d bytes, want %d", i, len(l), sha256.Size)
		}
		level[i] = bytes.Clone(l)
	}

	t := tree{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(level[i], right))
		}
		t = append(t, next)
		level = next
	}
	return t, nil
}

func (t tree) root() []byte { return t[len(t)-1][0] }

func (t tree) proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t[0]) {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}
	steps := make([]ProofStep, 0, len(t)-1)
	for _, nodes := range t[:len(t)-1] {
		sib, side := index+1, "R"
		if index%2 == 1 {
			sib, side = index-1, "L"
		}
		if sib >= len(nodes) {
			sib = index
		}
		steps = append(steps, ProofStep{Hash: hex.EncodeToString(nodes[sib]), Side: side})
		index /= 2
	}
	return steps, nil
}

// VerifyProof reports whether leaf and proof reproduce the hex-encoded root.
func VerifyProof(leaf []byte, proof []ProofStep, rootHex string) (bool, error) {
	want, err := hex.DecodeString(rootHex)
	if err != nil {
		return false, fmt.Errorf("invalid root encoding: %w", err)
	}
	if len(leaf) == 0 {
		return false, errors.New("empty leaf")
	}
	cur := bytes.Clone(leaf)
	for _, step := range proof {
		sib, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, fmt.Errorf("invalid proof hash encoding: %w", err)
		}
		switch step.Side {
		case "L":
			cur = hashPair(sib, cur)
		case "R":
			cur = hashPair(cur, sib)
		default:
			return false, fmt.Errorf("invalid proof side %q", step.Side)
		}
	}
	return bytes.Equal(cur, want), nil
}
