package xlat

import (
	"encoding/binary"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
)

// 6->4 translator (C4), spec.md §4.5 and the extension-header walk detail
// in SPEC_FULL.md §4.10.

const (
	extHopByHop    = 0
	extRouting     = 43
	extFragment    = 44
	extDestOptions = 60
	extAH          = 51
	extICMPv6      = 58
)

// parsedExtensionHeaders is the result of walking an IPv6 datagram's
// extension header chain: where the upper-layer payload starts, what
// protocol it is, and the fragment header's fields when present.
type parsedExtensionHeaders struct {
	upperLayerProto byte
	payloadOffset   int
	hasFragment     bool
	fragOffset      uint16
	fragMore        bool
	fragID          uint32
}

// walkExtensionHeaders walks {Hop-by-Hop, Routing, Fragment,
// Destination-Options} in that order starting right after the fixed IPv6
// header, per spec.md §4.5 and SPEC_FULL.md §4.10. AH is recognized only
// to be rejected (content translation is out of scope); any other next
// header value ends the walk (it is the upper-layer protocol).
func walkExtensionHeaders(buf []byte) (parsed parsedExtensionHeaders, paramProblemPointer int, dropReason string) {
	nextHeader := buf[6]
	offset := 40

	for {
		switch nextHeader {
		case extHopByHop, extDestOptions:
			if offset+8 > len(buf) {
				return parsed, offset, metrics.DropReasonMalformedHeader
			}
			nh := buf[offset]
			hdrLen := (int(buf[offset+1]) + 1) * 8
			if offset+hdrLen > len(buf) {
				return parsed, offset, metrics.DropReasonMalformedHeader
			}
			offset += hdrLen
			nextHeader = nh

		case extRouting:
			if offset+8 > len(buf) {
				return parsed, offset, metrics.DropReasonMalformedHeader
			}
			nh := buf[offset]
			hdrLen := (int(buf[offset+1]) + 1) * 8
			routingType := buf[offset+2]
			segmentsLeft := buf[offset+3]
			if offset+hdrLen > len(buf) {
				return parsed, offset, metrics.DropReasonMalformedHeader
			}
			if routingType != 0 {
				return parsed, offset + 2, metrics.DropReasonUnsupportedExtension
			}
			if segmentsLeft != 0 {
				return parsed, offset + 3, metrics.DropReasonRoutingTypeZero
			}
			offset += hdrLen
			nextHeader = nh

		case extFragment:
			if offset+8 > len(buf) {
				return parsed, offset, metrics.DropReasonMalformedHeader
			}
			nh := buf[offset]
			offsetAndM := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
			parsed.hasFragment = true
			parsed.fragOffset = offsetAndM >> 3
			parsed.fragMore = offsetAndM&1 != 0
			parsed.fragID = binary.BigEndian.Uint32(buf[offset+4 : offset+8])
			offset += 8
			nextHeader = nh

		case extAH:
			return parsed, offset, metrics.DropReasonUnsupportedExtension

		default:
			parsed.upperLayerProto = nextHeader
			parsed.payloadOffset = offset
			return parsed, -1, ""
		}
	}
}

// Translate6to4 is Translate4to6's mirror.
func Translate6to4(ctx *ThreadContext) outcome {
	in := ctx.InBuffer[:ctx.InSize]
	cfg := ctx.Config

	if len(in) < ipv6MinHeaderLen {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}
	if in[0]>>4 != 6 {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}

	payloadLen := int(binary.BigEndian.Uint16(in[4:6]))
	if ipv6MinHeaderLen+payloadLen > len(in) {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}
	in = in[:ipv6MinHeaderLen+payloadLen]

	var srcV6, dstV6 [16]byte
	copy(srcV6[:], in[8:24])
	copy(dstV6[:], in[24:40])

	parsed, paramPtr, dropReason := walkExtensionHeaders(in)
	if dropReason != "" {
		if dropReason == metrics.DropReasonRoutingTypeZero {
			emitICMPv6ParameterProblem(ctx, in, srcV6, uint32(paramPtr))
			return outcomeDroppedWithReply
		}
		return dropSilently(ctx, dropReason)
	}

	srcV4, dstV4, ok := synthesize6to4Addresses(cfg, srcV6, dstV6)
	if !ok {
		return dropSilently(ctx, metrics.DropReasonForbiddenAddress)
	}

	hopLimit := in[7]
	if hopLimit <= 1 {
		emitICMPv6TimeExceeded(ctx, in, srcV6)
		return outcomeDroppedWithReply
	}
	ttl := hopLimit - 1

	protocol := parsed.upperLayerProto
	if protocol == extICMPv6 {
		protocol = 1
	}

	out := ctx.OutBuffer[:]
	const ihl = 20

	hdr := out[:ihl]
	hdr[0] = 0x45
	dscpEcn := byte(0)
	if cfg.CopyDSCPAndFlowLabel {
		dscpEcn = (in[0]&0x0f)<<4 | in[1]>>4
	}
	hdr[1] = dscpEcn
	binary.BigEndian.PutUint16(hdr[6:8], 0)
	hdr[8] = ttl
	hdr[9] = protocol
	copy(hdr[12:16], srcV4[:])
	copy(hdr[16:20], dstV4[:])

	payload := in[parsed.payloadOffset:]
	var payloadOutLen int

	if parsed.hasFragment {
		flagsFrag := parsed.fragOffset & 0x1fff
		if parsed.fragMore {
			flagsFrag |= 0x2000
		}
		binary.BigEndian.PutUint16(hdr[6:8], flagsFrag)
		binary.BigEndian.PutUint16(hdr[4:6], uint16(parsed.fragID))
	} else {
		// No Fragment Header on the IPv6 side: the packet was sent atomic,
		// so set DF on the IPv4 side rather than let an intermediate
		// router fragment it unexpectedly.
		binary.BigEndian.PutUint16(hdr[6:8], 0x4000)
		binary.BigEndian.PutUint16(hdr[4:6], 0)
	}

	switch {
	case protocol == 1: // ICMP, delegate to C5, first fragment only
		if parsed.hasFragment && parsed.fragOffset != 0 {
			payloadOutLen = copy(out[ihl:], payload)
			ok = true
		} else {
			payloadOutLen, ok = translateICMP6to4(cfg, payload, out[ihl:], routerICMPv4Cap-ihl)
			if ok {
				binary.BigEndian.PutUint16(out[ihl+2:ihl+4], 0)
				checksum := RFC1071(nil, out[ihl:ihl+payloadOutLen])
				binary.BigEndian.PutUint16(out[ihl+2:ihl+4], checksum)
			}
		}
	case protocol == 6 || protocol == 17: // TCP / UDP
		payloadOutLen = copy(out[ihl:], payload)
		ok = true
		if !parsed.hasFragment || parsed.fragOffset == 0 {
			rewriteL4ChecksumFor6to4(protocol, srcV6, dstV6, srcV4, dstV4, uint16(len(payload)), out[ihl:ihl+payloadOutLen])
		}
	default:
		payloadOutLen = copy(out[ihl:], payload)
		ok = true
	}

	if !ok {
		return dropSilently(ctx, metrics.DropReasonUntranslatableICMP)
	}

	outSize := ihl + payloadOutLen
	binary.BigEndian.PutUint16(hdr[2:4], uint16(outSize))

	if outSize > int(cfg.LinkMTUv4) {
		if parsed.hasFragment {
			// Let SendIPv4PossiblyFragmented split it on send; DF is never
			// set on a packet that arrived already fragmented.
		} else {
			emitICMPv6PacketTooBig(ctx, in, srcV6, uint32(cfg.LinkMTUv4)+uint32(ipv6MinHeaderLen-ihl))
			return outcomeDroppedWithReply
		}
	}

	csum, _ := IPv4HeaderChecksum(hdr)
	binary.BigEndian.PutUint16(hdr[10:12], csum)

	ctx.OutSize = outSize
	if ctx.Metrics != nil {
		ctx.Metrics.PacketsTranslated.WithLabelValues(metrics.Direction6to4).Inc()
	}
	return outcomeTranslated
}

func rewriteL4ChecksumFor6to4(protocol byte, srcV6, dstV6 [16]byte, srcV4, dstV4 [4]byte, l4Len uint16, l4 []byte) {
	checksumOffset := 16
	if protocol == 17 {
		checksumOffset = 6
	}
	if len(l4) < checksumOffset+2 {
		return
	}

	oldChecksum := binary.BigEndian.Uint16(l4[checksumOffset : checksumOffset+2])
	oldPH := PseudoHeaderIPv6(srcV6, dstV6, protocol, uint32(l4Len))
	newPH := PseudoHeaderIPv4(srcV4, dstV4, protocol, l4Len)
	newChecksum := Incremental(oldChecksum, oldPH[:], newPH[:])
	binary.BigEndian.PutUint16(l4[checksumOffset:checksumOffset+2], newChecksum)
}
