package xlat

import "encoding/binary"

// ICMP sub-translators (C5). Type/code mapping per RFC 7915 §4.2 (4->6)
// and §5.2 (6->4); embedded offending-packet handling per spec.md §4.6.

const (
	icmp4EchoReply        = 0
	icmp4DestUnreachable  = 3
	icmp4EchoRequest      = 8
	icmp4TimeExceeded     = 11
	icmp4ParameterProblem = 12

	icmp6DestUnreachable  = 1
	icmp6PacketTooBig     = 2
	icmp6TimeExceeded     = 3
	icmp6ParameterProblem = 4
	icmp6EchoRequest      = 128
	icmp6EchoReply        = 129
)

// embeddedOffendingPacket is the fixed-size scratch described in spec.md
// §4.6: up to 64 bytes of synthesized inner header plus a non-owning view
// into whatever inner bytes follow it in the original packet. The tail is
// never copied -- writeTo concatenates it with start lazily while the
// caller streams the result into the outer ICMP message / computes its
// checksum.
type embeddedOffendingPacket struct {
	start       [64]byte
	startSizeM8 int // size of the start region in use: 40 (IPv6 header) or 20 (IPv4 header)
	tail        []byte
}

// totalLen is the combined length of the logical concatenation
// start[:startSizeM8] ++ tail.
func (e *embeddedOffendingPacket) totalLen() int {
	return e.startSizeM8 + len(e.tail)
}

// writeTo appends the logical concatenation to dst (capped at len(dst)),
// returning the number of bytes written.
func (e *embeddedOffendingPacket) writeTo(dst []byte) int {
	n := copy(dst, e.start[:e.startSizeM8])
	n += copy(dst[n:], e.tail)
	return n
}

// buildEmbedded4to6 re-synthesizes the inner (offending) IPv4 datagram
// quoted by an ICMPv4 error as an IPv6 header, the way the outer packet
// itself would have been translated, then attaches whatever inner bytes
// follow the header as a non-owning tail view truncated to maxTotal.
func buildEmbedded4to6(cfg *Config, innerIPv4 []byte, maxTotal int) embeddedOffendingPacket {
	var e embeddedOffendingPacket
	if len(innerIPv4) < 20 {
		return e
	}

	ihl := int(innerIPv4[0]&0x0f) * 4
	if ihl < 20 || ihl > len(innerIPv4) {
		return e
	}

	var srcV4, dstV4 [4]byte
	copy(srcV4[:], innerIPv4[12:16])
	copy(dstV4[:], innerIPv4[16:20])
	srcV6, dstV6 := synthesize4to6Addresses(cfg, srcV4, dstV4)

	hdr := e.start[:40]
	hdr[0] = 0x60
	hdr[1], hdr[2], hdr[3] = 0, 0, 0
	innerPayloadLen := len(innerIPv4) - ihl
	binary.BigEndian.PutUint16(hdr[4:6], clampUint16(innerPayloadLen))
	proto := innerIPv4[9]
	if proto == 1 {
		hdr[6] = 58
	} else {
		hdr[6] = proto
	}
	ttl := innerIPv4[8]
	if ttl > 0 {
		ttl--
	}
	hdr[7] = ttl
	copy(hdr[8:24], srcV6[:])
	copy(hdr[24:40], dstV6[:])

	e.startSizeM8 = 40

	tail := innerIPv4[ihl:]
	remaining := maxTotal - e.startSizeM8
	if remaining < 0 {
		remaining = 0
	}
	if len(tail) > remaining {
		tail = tail[:remaining]
	}
	e.tail = tail
	return e
}

// buildEmbedded6to4 is buildEmbedded4to6's mirror.
func buildEmbedded6to4(cfg *Config, innerIPv6 []byte, maxTotal int) embeddedOffendingPacket {
	var e embeddedOffendingPacket
	if len(innerIPv6) < 40 {
		return e
	}

	var srcV6, dstV6 [16]byte
	copy(srcV6[:], innerIPv6[8:24])
	copy(dstV6[:], innerIPv6[24:40])
	srcV4, dstV4, ok := synthesize6to4Addresses(cfg, srcV6, dstV6)
	if !ok {
		return e
	}

	hdr := e.start[:20]
	hdr[0] = 0x45
	hdr[1] = 0
	innerTotalLen := 20 + (len(innerIPv6) - 40)
	binary.BigEndian.PutUint16(hdr[2:4], clampUint16(innerTotalLen))
	binary.BigEndian.PutUint16(hdr[4:6], 0)
	binary.BigEndian.PutUint16(hdr[6:8], 0)
	ttl := innerIPv6[7]
	if ttl > 0 {
		ttl--
	}
	hdr[8] = ttl
	nh := innerIPv6[6]
	if nh == 58 {
		hdr[9] = 1
	} else {
		hdr[9] = nh
	}
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	copy(hdr[12:16], srcV4[:])
	copy(hdr[16:20], dstV4[:])
	csum, _ := IPv4HeaderChecksum(hdr)
	binary.BigEndian.PutUint16(hdr[10:12], csum)

	e.startSizeM8 = 20

	tail := innerIPv6[40:]
	remaining := maxTotal - e.startSizeM8
	if remaining < 0 {
		remaining = 0
	}
	if len(tail) > remaining {
		tail = tail[:remaining]
	}
	e.tail = tail
	return e
}

func clampUint16(n int) uint16 {
	if n > 0xffff {
		return 0xffff
	}
	if n < 0 {
		return 0
	}
	return uint16(n)
}

// translateICMP4to6 converts an ICMPv4 message (icmpIn, including its
// 8-byte header) into an ICMPv6 message written into out, returning its
// length. maxOut bounds the embedded offending packet per the 1280-byte
// IPv6 cap. ok is false when the message type is untranslatable and must
// be dropped per spec.md §4.6.
func translateICMP4to6(cfg *Config, icmpIn []byte, out []byte, maxOut int) (n int, ok bool) {
	if len(icmpIn) < 8 {
		return 0, false
	}
	t, code := icmpIn[0], icmpIn[1]

	switch t {
	case icmp4EchoRequest:
		return copyICMPRest(icmp6EchoRequest, 0, icmpIn, out)
	case icmp4EchoReply:
		return copyICMPRest(icmp6EchoReply, 0, icmpIn, out)

	case icmp4DestUnreachable:
		if code == 4 { // fragmentation needed -> Packet Too Big, MTU grown by the header-size difference
			mtu := uint32(binary.BigEndian.Uint16(icmpIn[6:8])) + 20
			if mtu > uint32(cfg.LinkMTUv6) {
				mtu = uint32(cfg.LinkMTUv6)
			}
			if mtu < 1280 {
				mtu = 1280
			}
			embedded := buildEmbedded4to6(cfg, restOf(icmpIn), maxOut-8)
			return writeOuterICMP(icmp6PacketTooBig, 0, mtu, &embedded, out)
		}
		v6type, v6code, translatable := mapDestUnreachable4to6(code)
		if !translatable {
			return 0, false
		}
		var pointer uint32
		if v6type == icmp6ParameterProblem {
			pointer = 6 // IPv6 Next Header field
		}
		embedded := buildEmbedded4to6(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(v6type, v6code, pointer, &embedded, out)

	case icmp4TimeExceeded:
		embedded := buildEmbedded4to6(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp6TimeExceeded, code, 0, &embedded, out)

	case icmp4ParameterProblem:
		v6ptr, ok2 := mapParamProblemPointer4to6(icmpIn[4])
		if !ok2 {
			return 0, false
		}
		embedded := buildEmbedded4to6(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp6ParameterProblem, 0, v6ptr, &embedded, out)

	default:
		// Source quench, redirect, timestamp, info request/reply: no RFC
		// 7915 ICMPv6 equivalent. spec.md §4.6: normally dropped outright;
		// if GenerateChecksumsForUntranslatableICMP is set, pass the
		// message through with its original type/code instead of
		// synthesizing one, so the caller still computes a valid outer
		// checksum over it rather than emitting nothing at all.
		if !cfg.GenerateChecksumsForUntranslatableICMP {
			return 0, false
		}
		return copyICMPRest(t, code, icmpIn, out)
	}
}

// translateICMP6to4 is translateICMP4to6's mirror, RFC 7915 §5.2/§5.3.
func translateICMP6to4(cfg *Config, icmpIn []byte, out []byte, maxOut int) (n int, ok bool) {
	if len(icmpIn) < 8 {
		return 0, false
	}
	t, code := icmpIn[0], icmpIn[1]

	switch t {
	case icmp6EchoRequest:
		return copyICMPRest(icmp4EchoRequest, 0, icmpIn, out)
	case icmp6EchoReply:
		return copyICMPRest(icmp4EchoReply, 0, icmpIn, out)

	case icmp6DestUnreachable:
		v4code, translatable := mapDestUnreachable6to4(code)
		if !translatable {
			return 0, false
		}
		embedded := buildEmbedded6to4(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp4DestUnreachable, v4code, 0, &embedded, out)

	case icmp6PacketTooBig:
		mtu := binary.BigEndian.Uint32(icmpIn[4:8])
		embedded := buildEmbedded6to4(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp4DestUnreachable, 4 /* fragmentation needed */, clampMTUForIPv4(mtu), &embedded, out)

	case icmp6TimeExceeded:
		embedded := buildEmbedded6to4(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp4TimeExceeded, code, 0, &embedded, out)

	case icmp6ParameterProblem:
		if code == 1 { // unrecognized next header -> protocol unreachable
			embedded := buildEmbedded6to4(cfg, restOf(icmpIn), maxOut-8)
			return writeOuterICMP(icmp4DestUnreachable, 2, 0, &embedded, out)
		}
		ptr := binary.BigEndian.Uint32(icmpIn[4:8])
		v4ptr, ok2 := mapParamProblemPointer6to4(ptr, code)
		if !ok2 {
			return 0, false
		}
		embedded := buildEmbedded6to4(cfg, restOf(icmpIn), maxOut-8)
		return writeOuterICMP(icmp4ParameterProblem, 0, uint32(v4ptr)<<24, &embedded, out)

	default:
		// Redirect, router/neighbor solicitation/advertisement, MLD: no
		// ICMPv4 equivalent. Same GenerateChecksumsForUntranslatableICMP
		// escape hatch as translateICMP4to6's default case.
		if !cfg.GenerateChecksumsForUntranslatableICMP {
			return 0, false
		}
		return copyICMPRest(t, code, icmpIn, out)
	}
}

func restOf(icmpIn []byte) []byte {
	if len(icmpIn) <= 8 {
		return nil
	}
	return icmpIn[8:]
}

// mapDestUnreachable4to6 implements the code table of RFC 7915 §4.2.
// Code 4 (fragmentation needed) is handled by translateICMP4to6 itself.
func mapDestUnreachable4to6(code byte) (v6type, v6code byte, ok bool) {
	switch code {
	case 0, 1, 5, 6, 7, 8, 11, 12:
		return icmp6DestUnreachable, 0, true
	case 2: // protocol unreachable -> parameter problem (unrecognized next header) at next-header offset
		return icmp6ParameterProblem, 1, true
	case 3: // port unreachable
		return icmp6DestUnreachable, 4, true
	case 9, 10, 13, 15: // administratively prohibited / precedence cutoff
		return icmp6DestUnreachable, 1, true
	default:
		return 0, 0, false
	}
}

// mapDestUnreachable6to4 implements RFC 7915 §5.2's reverse table.
func mapDestUnreachable6to4(code byte) (v4code byte, ok bool) {
	switch code {
	case 0, 2, 3, 5, 6:
		return 1, true // host unreachable
	case 1:
		return 13, true // administratively prohibited
	case 4:
		return 3, true // port unreachable
	default:
		return 0, false
	}
}

func mapParamProblemPointer4to6(ptr byte) (uint32, bool) {
	switch ptr {
	case 0:
		return 0, true // version/IHL -> version/traffic class
	case 1:
		return 1, true // DSCP/ECN -> traffic class
	case 8:
		return 7, true // TTL -> hop limit
	case 9:
		return 6, true // protocol -> next header
	case 12:
		return 8, true // source address
	case 16:
		return 24, true // destination address
	default:
		return 0, false
	}
}

func mapParamProblemPointer6to4(ptr uint32, code byte) (byte, bool) {
	if code == 1 {
		// "unrecognized next header" has no direct parameter-problem
		// analogue in ICMPv4; translateICMP6to4 turns it into a
		// protocol-unreachable before reaching this map.
		return 0, false
	}
	switch ptr {
	case 0:
		return 0, true
	case 6:
		return 9, true // next header -> protocol
	case 7:
		return 8, true // hop limit -> TTL
	case 8:
		return 12, true // source address
	case 24:
		return 16, true // destination address
	default:
		return 0, false
	}
}

func clampMTUForIPv4(mtu uint32) uint32 {
	if mtu > 0xffff {
		return 0xffff
	}
	return mtu
}

// copyICMPRest rewrites only the type/code for message kinds whose body
// needs no further reinterpretation (echo request/reply): the
// identifier/sequence fields are bit-for-bit identical between ICMPv4 and
// ICMPv6 echo messages.
func copyICMPRest(newType, newCode byte, icmpIn, out []byte) (int, bool) {
	n := copy(out, icmpIn)
	out[0] = newType
	out[1] = newCode
	return n, true
}

// writeOuterICMP rewrites the 8-byte ICMP header (type, code, a
// checksum placeholder left zero for the caller to fill in once the outer
// pseudo-header is known, and a 4-byte rest-of-header carrying either an
// unused field, a parameter-problem pointer, or a frag-needed MTU) and
// appends the embedded offending packet.
func writeOuterICMP(newType, newCode byte, restOfHeader uint32, embedded *embeddedOffendingPacket, out []byte) (int, bool) {
	if len(out) < 8 {
		return 0, false
	}
	out[0] = newType
	out[1] = newCode
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint32(out[4:8], restOfHeader)

	n := embedded.writeTo(out[8:])
	return 8 + n, true
}
