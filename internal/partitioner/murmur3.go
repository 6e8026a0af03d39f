package partitioner

import (
	"encoding/binary"
	"math/bits"
)

const (
	c1 = 0x87c37b91114253d5
	c2 = 0x4cf5ad432745937f
)

// hash3x64 returns the first half of MurmurHash3 x64_128 with seed 0, as the
// store computes it. Tail bytes are treated as signed before widening, which
// differs from the reference implementation for bytes >= 0x80.
func hash3x64(key []byte) uint64 {
	var h1, h2 uint64
	n := len(key)

	nblocks := n / 16
	for i := 0; i < nblocks; i++ {
		k1 := binary.LittleEndian.Uint64(key[i*16:])
		k2 := binary.LittleEndian.Uint64(key[i*16+8:])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := key[nblocks*16:]
	var k1, k2 uint64
	if len(tail) > 8 {
		for i := len(tail) - 1; i >= 8; i-- {
			k2 ^= signExtend(tail[i]) << (uint(i-8) * 8)
		}
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
	}
	if len(tail) > 0 {
		for i := min(len(tail), 8) - 1; i >= 0; i-- {
			k1 ^= signExtend(tail[i]) << (uint(i) * 8)
		}
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(n)
	h2 ^= uint64(n)

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	return h1 + h2
}

func signExtend(b byte) uint64 {
	return uint64(int64(int8(b)))
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}
