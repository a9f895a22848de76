package xlat

import (
	"encoding/binary"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
)

// Router / self-originated ICMP emitter (C7), spec.md §4.7. These entry
// points synthesize ICMP from the translator itself -- never from the
// translated peer -- and write directly to ctx.WriteEndpoint, bypassing
// the normal translate-then-send path while still sharing the checksum
// engine (C6) and the fragmentation-free direct write (self-originated
// ICMP is built to already fit under the 1280/576 cap, so it is never
// itself fragmented).

// emitICMPv4TimeExceeded sends an ICMPv4 Time Exceeded to origSrc, quoting
// as much of the original (untranslated) IPv4 datagram as fits under 576
// bytes. Used when a 4->6 translation finds ttl<=1.
func emitICMPv4TimeExceeded(ctx *ThreadContext, origIPv4 []byte, origSrc [4]byte) {
	emitICMPv4(ctx, origIPv4, origSrc, icmp4TimeExceeded, 0, 0, metrics.ICMPKindTimeExceeded)
}

// emitICMPv4FragNeeded sends an ICMPv4 Destination Unreachable /
// Fragmentation Needed (code 4) carrying nextHopMTU, used when a 4->6
// translation's IPv6 result would exceed the egress link MTU.
func emitICMPv4FragNeeded(ctx *ThreadContext, origIPv4 []byte, origSrc [4]byte, nextHopMTU uint16) {
	emitICMPv4(ctx, origIPv4, origSrc, icmp4DestUnreachable, 4, uint32(nextHopMTU), metrics.ICMPKindFragNeeded)
}

func emitICMPv4(ctx *ThreadContext, origIPv4 []byte, origDst [4]byte, icmpType, icmpCode byte, restOfHeader uint32, kind string) {
	cfg := ctx.Config
	out := ctx.OutBuffer[:]

	const ihl = 20
	maxQuote := routerICMPv4Cap - ihl - 8
	quoteLen := len(origIPv4)
	if quoteLen > maxQuote {
		quoteLen = maxQuote
	}

	icmp := out[ihl:]
	icmp[0], icmp[1] = icmpType, icmpCode
	binary.BigEndian.PutUint16(icmp[2:4], 0)
	binary.BigEndian.PutUint32(icmp[4:8], restOfHeader)
	n := copy(icmp[8:], origIPv4[:quoteLen])
	icmpLen := 8 + n

	checksum := RFC1071(nil, icmp[:icmpLen])
	binary.BigEndian.PutUint16(icmp[2:4], checksum)

	hdr := out[:ihl]
	hdr[0] = 0x45
	hdr[1] = 0
	binary.BigEndian.PutUint16(hdr[2:4], uint16(ihl+icmpLen))
	binary.BigEndian.PutUint16(hdr[4:6], 0)
	binary.BigEndian.PutUint16(hdr[6:8], 0)
	hdr[8] = cfg.RouterGeneratedPacketTTL
	hdr[9] = 1 // ICMP
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	copy(hdr[12:16], cfg.TranslatorIPv4[:])
	copy(hdr[16:20], origDst[:])
	csum, _ := IPv4HeaderChecksum(hdr)
	binary.BigEndian.PutUint16(hdr[10:12], csum)

	ctx.OutSize = ihl + icmpLen
	if err := ctx.WriteEndpoint.Write(out[:ctx.OutSize]); err == nil && ctx.Metrics != nil {
		ctx.Metrics.ICMPRepliesSent.WithLabelValues(kind).Inc()
	}
}

// emitICMPv6TimeExceeded sends an ICMPv6 Time Exceeded to origSrc, quoting
// as much of the original (untranslated) IPv6 datagram as fits under 1280
// bytes. Used when a 6->4 translation finds hop_limit<=1.
func emitICMPv6TimeExceeded(ctx *ThreadContext, origIPv6 []byte, origSrc [16]byte) {
	emitICMPv6(ctx, origIPv6, origSrc, icmp6TimeExceeded, 0, 0, metrics.ICMPKindTimeExceeded)
}

// emitICMPv6PacketTooBig sends an ICMPv6 Packet Too Big carrying mtu, used
// when a 6->4 translation's IPv4 result would exceed the egress link MTU
// and the original IPv6 packet had no fragment header to split instead.
func emitICMPv6PacketTooBig(ctx *ThreadContext, origIPv6 []byte, origSrc [16]byte, mtu uint32) {
	emitICMPv6(ctx, origIPv6, origSrc, icmp6PacketTooBig, 0, mtu, metrics.ICMPKindFragNeeded)
}

// emitICMPv6ParameterProblem sends an ICMPv6 Parameter Problem pointing at
// pointer. It is used only when a Routing Header Type 0 with
// segments_left != 0 is encountered (spec.md §4.5); other malformed
// extension header chains are dropped without a reply.
func emitICMPv6ParameterProblem(ctx *ThreadContext, origIPv6 []byte, origSrc [16]byte, pointer uint32) {
	emitICMPv6(ctx, origIPv6, origSrc, icmp6ParameterProblem, 0, pointer, metrics.ICMPKindParameterProblem)
}

func emitICMPv6(ctx *ThreadContext, origIPv6 []byte, origDst [16]byte, icmpType, icmpCode byte, restOfHeader uint32, kind string) {
	cfg := ctx.Config
	out := ctx.OutBuffer[:]

	const ipv6Hdr = 40
	maxQuote := routerICMPv6Cap - ipv6Hdr - 8
	quoteLen := len(origIPv6)
	if quoteLen > maxQuote {
		quoteLen = maxQuote
	}

	icmp := out[ipv6Hdr:]
	icmp[0], icmp[1] = icmpType, icmpCode
	binary.BigEndian.PutUint16(icmp[2:4], 0)
	binary.BigEndian.PutUint32(icmp[4:8], restOfHeader)
	n := copy(icmp[8:], origIPv6[:quoteLen])
	icmpLen := 8 + n

	hdr := out[:ipv6Hdr]
	hdr[0] = 0x60
	hdr[1], hdr[2], hdr[3] = 0, 0, 0
	binary.BigEndian.PutUint16(hdr[4:6], uint16(icmpLen))
	hdr[6] = 58
	hdr[7] = cfg.RouterGeneratedPacketTTL
	copy(hdr[8:24], cfg.TranslatorIPv6[:])
	copy(hdr[24:40], origDst[:])

	ph := PseudoHeaderIPv6(cfg.TranslatorIPv6, origDst, 58, uint32(icmpLen))
	checksum := RFC1071(ph[:], icmp[:icmpLen])
	binary.BigEndian.PutUint16(icmp[2:4], checksum)

	ctx.OutSize = ipv6Hdr + icmpLen
	if err := ctx.WriteEndpoint.Write(out[:ctx.OutSize]); err == nil && ctx.Metrics != nil {
		ctx.Metrics.ICMPRepliesSent.WithLabelValues(kind).Inc()
	}
}
