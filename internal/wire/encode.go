package wire

import (
	"encoding/binary"
	"time"
)

// BuildQuery synthesizes a 512-octet question-only query for name/qtype
// with the recursion-desired bit set. Used by tools/bench_throughput to
// generate load without depending on a full message-object library.
func BuildQuery(requestID uint16, name string, qtype RecordType) []byte {
	buf := make([]byte, PacketSize)
	binary.BigEndian.PutUint16(buf[0:2], requestID)
	h := Header{RD: true}
	binary.BigEndian.PutUint16(buf[2:4], encodeFlags(h))
	binary.BigEndian.PutUint16(buf[4:6], 1) // QDCount

	off := headerSize
	off += writeQuestionName(buf[off:], name)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(qtype))
	binary.BigEndian.PutUint16(buf[off+2:off+4], 1) // IN
	return buf
}

// writeQuestionName writes name as a sequence of length-prefixed labels
// terminated by a zero octet, stripping any trailing dot first.
func writeQuestionName(buf []byte, name string) int {
	if len(name) > 0 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}
	off := 0
	if name == "" {
		buf[0] = 0
		return 1
	}
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			buf[off] = byte(len(label))
			off++
			off += copy(buf[off:], label)
			start = i + 1
		}
	}
	buf[off] = 0
	off++
	return off
}

// BuildMinimalReply synthesizes a 512-octet reply: a 12-octet header
// with the supplied id, the response bit set, the given response code,
// zeroed section counts, and zero-padded trailing body. Used for
// blocklist NXDOMAIN synthesis and benchmark-mode stub replies.
func BuildMinimalReply(requestID uint16, rcode ResponseCode) []byte {
	buf := make([]byte, PacketSize)
	binary.BigEndian.PutUint16(buf[0:2], requestID)
	h := Header{QR: true, Rcode: rcode}
	binary.BigEndian.PutUint16(buf[2:4], encodeFlags(h))
	// QDCount..ARCount already zero.
	return buf
}

// RewriteCachedReply returns a new 512-octet buffer identical to
// cached except the request id is overwritten and each TTL at
// ttlOffsets is decremented by elapsed (floored at zero). It never
// mutates cached; the caller decides what to do with the returned copy
// (internal/cache stores it as the new entry and hands a further copy
// to the client).
//
// Name compression pointers are never touched — only the fixed-width
// id and TTL fields are rewritten, per spec.
func RewriteCachedReply(cached []byte, ttlOffsets []int, elapsed time.Duration, newID uint16) []byte {
	out := make([]byte, len(cached))
	copy(out, cached)

	binary.BigEndian.PutUint16(out[0:2], newID)

	elapsedSecs := uint32(0)
	if elapsed > 0 {
		secs := elapsed / time.Second
		if secs > 0 {
			elapsedSecs = uint32(secs)
		}
	}

	for _, off := range ttlOffsets {
		if off+4 > len(out) {
			continue
		}
		old := binary.BigEndian.Uint32(out[off : off+4])
		var next uint32
		if old > elapsedSecs {
			next = old - elapsedSecs
		}
		binary.BigEndian.PutUint32(out[off:off+4], next)
	}

	return out
}

// MinTTL returns the minimum TTL across answers, or 0 if there are
// none — the cache's expiry horizon.
func MinTTL(answers []ResourceRecord) uint32 {
	if len(answers) == 0 {
		return 0
	}
	min := answers[0].TTL
	for _, a := range answers[1:] {
		if a.TTL < min {
			min = a.TTL
		}
	}
	return min
}
