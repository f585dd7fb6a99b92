// Package random provides cryptographically secure transaction ID
// generation for synthesizing DNS queries outside the forwarder's own
// client-to-upstream path — currently tools/bench_throughput.go, which
// needs a fresh id per generated load-test query.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID generates a cryptographically random 16-bit id.
// math/rand must never be used here — a predictable upstream id
// defeats the point of randomizing it.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("random: crypto/rand unavailable: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
