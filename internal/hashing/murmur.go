// Package hashing implements the deterministic bucketing primitives used by
// percentage rollouts.
//
// The hash function is the 32-bit MurmurHash3 variant with a fixed seed.
// Rollout assignments are memoized implicitly by the hash: the same
// (rule, user) pair must land in the same bucket across processes, restarts,
// and versions. Changing the seed or the algorithm migrates every bucket
// assignment and must only happen between major versions.
package hashing

import (
	"math/bits"
)

// DefaultSeed is the fixed MurmurHash3 seed for rollout bucketing.
const DefaultSeed uint32 = 0x12345678

const (
	c1 = 0xcc9e2d51
	c2 = 0x1b873593
)

// Sum32 computes the 32-bit MurmurHash3 of data with the given seed.
// Input is consumed as little-endian 4-byte blocks with a tail merge for
// 1-3 residual bytes.
func Sum32(data []byte, seed uint32) uint32 {
	h := seed
	n := len(data)

	i := 0
	for ; i+4 <= n; i += 4 {
		k := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		k *= c1
		k = bits.RotateLeft32(k, 15)
		k *= c2

		h ^= k
		h = bits.RotateLeft32(h, 13)
		h = h*5 + 0xe6546b64
	}

	var k uint32
	switch n & 3 {
	case 3:
		k ^= uint32(data[i+2]) << 16
		fallthrough
	case 2:
		k ^= uint32(data[i+1]) << 8
		fallthrough
	case 1:
		k ^= uint32(data[i])
		k *= c1
		k = bits.RotateLeft32(k, 15)
		k *= c2
		h ^= k
	}

	h ^= uint32(n)
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16

	return h
}

// Bucketer assigns users to rollout buckets in [1,100].
type Bucketer struct {
	seed uint32
}

// NewBucketer creates a bucketer with the given seed. A zero seed selects
// DefaultSeed.
func NewBucketer(seed uint32) *Bucketer {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &Bucketer{seed: seed}
}

// Bucket returns the deterministic bucket in [1,100] for a (rule, user) pair.
// A rule with percentage P admits the user iff Bucket(ruleID, userID) <= P.
func (b *Bucketer) Bucket(ruleID, userID string) int {
	h := Sum32([]byte(ruleID+":"+userID), b.seed)
	return int(h%100) + 1
}
