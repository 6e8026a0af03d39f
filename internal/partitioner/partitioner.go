// Package partitioner maps partition key bytes to ring tokens.
package partitioner

import (
	"bytes"
	"cmp"
	"math"
)

const (
	// MinToken is reserved for the empty key; no hashed key maps to it.
	MinToken int64 = math.MinInt64
	// MaxToken is the largest token on the ring.
	MaxToken int64 = math.MaxInt64
)

// Partitioner assigns a token to a serialized partition key.
type Partitioner interface {
	Token(key []byte) int64
	Name() string
}

// Murmur3Partitioner is the store's default partitioner.
type Murmur3Partitioner struct{}

// Murmur3 is the shared stateless instance.
var Murmur3 Partitioner = Murmur3Partitioner{}

// Token hashes key. The empty key returns MinToken.
func (Murmur3Partitioner) Token(key []byte) int64 {
	if len(key) == 0 {
		return MinToken
	}
	token := int64(hash3x64(key))
	if token == MinToken {
		return MaxToken
	}
	return token
}

// Name returns the partitioner class name recorded in generation statistics.
func (Murmur3Partitioner) Name() string {
	return "org.apache.cassandra.dht.Murmur3Partitioner"
}

// CompareKeys orders partitions by token, then by raw key bytes so colliding
// tokens stay distinct partitions.
func CompareKeys(tokenA int64, keyA []byte, tokenB int64, keyB []byte) int {
	if c := cmp.Compare(tokenA, tokenB); c != 0 {
		return c
	}
	return bytes.Compare(keyA, keyB)
}
