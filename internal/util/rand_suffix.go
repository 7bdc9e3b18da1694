// Package util provides small helpers shared across hogwatch.
package util

import (
	"crypto/rand"
	"math/big"
)

// letters defines the character set for random suffixes.
var letters = []rune("abcdefghijklmnopqrstuvwxyz0123456789")

// RandSuffix generates a random lowercase alphanumeric string of length n,
// used to keep concurrently acquired container names and scratch directories
// collision-free.
func RandSuffix(n int) string {
	buf := make([]rune, n)
	for i := range buf {
		// Use crypto/rand for secure randomness.
		index, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		buf[i] = letters[index.Int64()]
	}

	return string(buf)
}
