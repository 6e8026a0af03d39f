package sstable

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	minFilterBits   = 64
	maxFilterHashes = 30
)

// BloomFilter answers "definitely absent" for partition keys. It uses double
// hashing over the two 32-bit halves of one xxHash64.
type BloomFilter struct {
	hashes uint32
	nbits  uint64
	words  []uint64
}

// NewBloomFilter sizes a filter for n keys at false-positive chance fp.
func NewBloomFilter(n int, fp float64) *BloomFilter {
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	nbits := uint64(minFilterBits)
	hashes := uint32(1)
	if n > 0 {
		m := math.Ceil(-float64(n) * math.Log(fp) / (math.Ln2 * math.Ln2))
		nbits = max(uint64(m), minFilterBits)
		k := math.Round(float64(nbits) / float64(n) * math.Ln2)
		hashes = uint32(min(max(k, 1), maxFilterHashes))
	}
	return &BloomFilter{
		hashes: hashes,
		nbits:  nbits,
		words:  make([]uint64, (nbits+63)/64),
	}
}

func (f *BloomFilter) positions(key []byte, fn func(bit uint64) bool) bool {
	h := xxhash.Sum64(key)
	h1 := uint64(uint32(h))
	h2 := uint64(uint32(h >> 32))
	for i := uint64(0); i < uint64(f.hashes); i++ {
		if !fn((h1 + i*h2) % f.nbits) {
			return false
		}
	}
	return true
}

// Add records key.
func (f *BloomFilter) Add(key []byte) {
	f.positions(key, func(bit uint64) bool {
		f.words[bit/64] |= 1 << (bit % 64)
		return true
	})
}

// MayContain reports false only if key was never added.
func (f *BloomFilter) MayContain(key []byte) bool {
	return f.positions(key, func(bit uint64) bool {
		return f.words[bit/64]&(1<<(bit%64)) != 0
	})
}

// MarshalBinary encodes uint32 hash count, uint64 bit count, then the words big-endian.
func (f *BloomFilter) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 12+8*len(f.words))
	b = binary.BigEndian.AppendUint32(b, f.hashes)
	b = binary.BigEndian.AppendUint64(b, f.nbits)
	for _, w := range f.words {
		b = binary.BigEndian.AppendUint64(b, w)
	}
	return b, nil
}

// UnmarshalBinary decodes Filter.db.
func (f *BloomFilter) UnmarshalBinary(b []byte) error {
	if len(b) < 12 {
		return corruptf("filter: truncated header")
	}
	hashes := binary.BigEndian.Uint32(b[0:4])
	nbits := binary.BigEndian.Uint64(b[4:12])
	b = b[12:]
	if hashes == 0 || hashes > maxFilterHashes || nbits == 0 {
		return corruptf("filter: %d hashes over %d bits", hashes, nbits)
	}
	nwords := (nbits + 63) / 64
	if uint64(len(b)) != 8*nwords {
		return corruptf("filter: %d bytes for %d bits", len(b), nbits)
	}
	words := make([]uint64, nwords)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(b[8*i:])
	}
	f.hashes, f.nbits, f.words = hashes, nbits, words
	return nil
}
