// Package testrand generates throwaway identifiers for test fixtures, such as
// bucket names and fixture keys.
package testrand

import (
	"encoding/hex"
	"math/rand"
)

// Hex returns n random hex characters. The randomness is not cryptographic.
func Hex(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, (n+1)/2)
	//#nosec:G404 // only used to keep fixture names apart
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:n]
}
