// Package block implements the block data model, canonical hashing, and
// structural/semantic validation.
package block

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisLastHash is the fixed well-known digest that stands in for "no
// parent" at height 0.
var GenesisLastHash = sha256.Sum256([]byte("Genesis_Last_Hash"))

// GenesisStateHash is SHA-256("<genesis_last_hash>,<SHA-256("Genesis_State_Hash")>")
// (spec §4.5), computed once at package init since GenesisLastHash is fixed.
var GenesisStateHash = computeGenesisStateHash()

func computeGenesisStateHash() [32]byte {
	inner := sha256.Sum256([]byte("Genesis_State_Hash"))
	h := sha256.New()
	h.Write(GenesisLastHash[:])
	h.Write([]byte(","))
	h.Write(inner[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Header is the canonical block header shared by every block variant.
type Header struct {
	LastHash        [32]byte
	LastStateRoot   [32]byte
	BlockHeight     uint64
	BlockSeed       uint64
	NextBlockSeed   uint64
	Round           uint64
	Epoch           uint64
	TimestampNanos  uint64
	MinerClaimHash  [32]byte
	ClaimListHash   [32]byte
	TxnHash         [32]byte
	BlockReward     uint64
	NextBlockReward uint64
	MinerSignature  []byte
	RefHashes       [][32]byte // only populated for convergence blocks
	BlockNonce      uint64
	NextBlockNonce  uint64
}

// encodeCanonical writes every header field in the fixed order of the
// struct above, except that BlockNonce and NextBlockNonce come right after
// NextBlockReward, ahead of MinerSignature. Integers are big-endian and byte
// strings raw, with no delimiters. MinerSignature and RefHashes are
// variable-length and written without a length prefix, so the encoding does
// not by itself mark where the signature ends and the ref hashes begin.
func (h *Header) encodeCanonical() []byte {
	buf := make([]byte, 0, 256+len(h.MinerSignature)+32*len(h.RefHashes))
	buf = append(buf, h.LastHash[:]...)
	buf = append(buf, h.LastStateRoot[:]...)
	buf = appendUint64(buf, h.BlockHeight)
	buf = appendUint64(buf, h.BlockSeed)
	buf = appendUint64(buf, h.NextBlockSeed)
	buf = appendUint64(buf, h.Round)
	buf = appendUint64(buf, h.Epoch)
	buf = appendUint64(buf, h.TimestampNanos)
	buf = append(buf, h.MinerClaimHash[:]...)
	buf = append(buf, h.ClaimListHash[:]...)
	buf = append(buf, h.TxnHash[:]...)
	buf = appendUint64(buf, h.BlockReward)
	buf = appendUint64(buf, h.NextBlockReward)
	buf = appendUint64(buf, h.BlockNonce)
	buf = appendUint64(buf, h.NextBlockNonce)
	buf = append(buf, h.MinerSignature...)
	for _, r := range h.RefHashes {
		buf = append(buf, r[:]...)
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// MerkleRoot computes a simple binary Merkle root over leaves, duplicating
// the last leaf on an odd level (the standard Bitcoin-style construction).
// An empty leaf set hashes to the zero digest.
func MerkleRoot(leaves [][]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = sha256.Sum256(l)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := range next {
			h := sha256.New()
			h.Write(level[2*i][:])
			h.Write(level[2*i+1][:])
			copy(next[i][:], h.Sum(nil))
		}
		level = next
	}
	return level[0]
}

// Hash computes hash(block) = SHA-256(canonical_encoding(header) ||
// merkle_root(txns) || merkle_root(ref_hashes)) (spec §4.5).
func Hash(h *Header, txnLeaves [][]byte, refLeaves [][]byte) [32]byte {
	txRoot := MerkleRoot(txnLeaves)
	refRoot := MerkleRoot(refLeaves)
	digest := sha256.New()
	digest.Write(h.encodeCanonical())
	digest.Write(txRoot[:])
	digest.Write(refRoot[:])
	var out [32]byte
	copy(out[:], digest.Sum(nil))
	return out
}
