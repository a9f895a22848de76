// Package xlat implements Tundra's stateless IPv4<->IPv6 packet translation
// core: the checksum engine, the per-worker thread context, the 4->6 and
// 6->4 translators, their ICMP sub-translators, and the worker loop that
// drives them.
package xlat

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// sum16 adds the 16-bit words of b to initial and folds carries back into
// the low 16 bits. It is the one RFC 1071 primitive every other checksum
// routine in this file is built from -- delegated to gvisor's
// tcpip/header.Checksum, the same fold the teacher's own IPv4/TCP offload
// path (tcp_offload_linux.go) drives through header.IPv4.CalculateChecksum
// and header.TCP.CalculateChecksum. The result is the plain
// one's-complement sum, not yet complemented -- callers that need a wire
// checksum must complement it themselves.
func sum16(b []byte, initial uint16) uint16 {
	return header.Checksum(b, initial)
}

// IPv4HeaderChecksum computes the RFC 791 header checksum of an IPv4 header
// (20-60 bytes, IHL already reflected in len(header)). The two checksum
// octets at offset 10-11 are treated as zero regardless of their actual
// content. The returned value is the complemented checksum as it belongs on
// the wire.
//
// ok is false if header's length isn't a valid IHL-derived size (shorter
// than 20, longer than 60, or not a multiple of 4); callers must have
// already validated the header length before calling.
func IPv4HeaderChecksum(header []byte) (checksum uint16, ok bool) {
	if len(header) < 20 || len(header) > 60 || len(header)%4 != 0 {
		return 0, false
	}

	// Sum the whole header, then undo the contribution of the checksum
	// field (bytes 10:12) instead of copying the header to zero it out --
	// this is the hot path for every translated packet's header rebuild.
	sum := sum16(header, 0)
	existing := binary.BigEndian.Uint16(header[10:12])
	sum = subtractWord(sum, existing)

	return ^sum, true
}

// subtractWord removes the contribution of a single 16-bit word from a
// folded one's-complement sum, i.e. it is the inverse of summing that word
// in. Used to exclude the stored checksum field without rescanning/copying
// the header.
func subtractWord(sum, word uint16) uint16 {
	acc := uint32(sum) + uint32(^word)
	for acc>>16 != 0 {
		acc = (acc >> 16) + (acc & 0xffff)
	}
	return uint16(acc)
}

// PseudoHeaderIPv4 builds the RFC 793/768 IPv4 pseudo-header (src, dst,
// zero, protocol, upper-layer length) consumed by RFC1071 for TCP/UDP/ICMP
// checksums.
func PseudoHeaderIPv4(src, dst [4]byte, protocol uint8, upperLayerLength uint16) [12]byte {
	var ph [12]byte
	copy(ph[0:4], src[:])
	copy(ph[4:8], dst[:])
	ph[8] = 0
	ph[9] = protocol
	binary.BigEndian.PutUint16(ph[10:12], upperLayerLength)
	return ph
}

// PseudoHeaderIPv6 builds the RFC 8200 §8.1 IPv6 pseudo-header (src, dst,
// upper-layer length as a 32-bit field, three zero bytes, next header).
func PseudoHeaderIPv6(src, dst [16]byte, nextHeader uint8, upperLayerLength uint32) [40]byte {
	var ph [40]byte
	copy(ph[0:16], src[:])
	copy(ph[16:32], dst[:])
	binary.BigEndian.PutUint32(ph[32:36], upperLayerLength)
	ph[36], ph[37], ph[38] = 0, 0, 0
	ph[39] = nextHeader
	return ph
}

// RFC1071 computes the one's-complement checksum of payload, optionally
// prefixed by a pseudo-header, and returns it already complemented as it
// belongs on the wire. pseudoHeader may be nil for ICMPv4 and other
// checksums that don't cover a pseudo-header.
func RFC1071(pseudoHeader, payload []byte) uint16 {
	sum := sum16(pseudoHeader, 0)
	sum = sum16(payload, sum)
	return ^sum
}

// Incremental recomputes a transport-layer checksum after a header swap
// without rescanning the packet payload, per RFC 1624's "~HC' = ~HC + ~m +
// m'" generalized over a multi-word delta region. oldChecksum is the
// checksum stored in the old packet's wire field; oldRegion/newRegion are
// the byte ranges that differ between the old and new packets -- typically
// the pseudo-header plus any header fields the checksum covers that
// changed. Each region is summed on its own, so their lengths may differ
// (a 12-byte IPv4 pseudo-header swapped for a 40-byte IPv6 one). The payload itself is never touched, which
// is what makes this the hot path for ordinary TCP/UDP translation.
func Incremental(oldChecksum uint16, oldRegion, newRegion []byte) uint16 {
	acc := uint32(^oldChecksum)
	acc += uint32(onesComplementSum(oldRegion))
	acc += uint32(sum16(newRegion, 0))

	for acc>>16 != 0 {
		acc = (acc >> 16) + (acc & 0xffff)
	}
	return ^uint16(acc)
}

// onesComplementSum folds region the same way sum16 does, then bitwise
// complements the result -- i.e. it computes sum(~word) in one's-complement
// arithmetic by complementing after folding rather than word-by-word
// (the two are equivalent under one's-complement addition).
func onesComplementSum(region []byte) uint16 {
	return ^sum16(region, 0)
}
