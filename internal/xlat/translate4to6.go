package xlat

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
)

// 4->6 translator (C3), spec.md §4.4.

const (
	ipv6MinHeaderLen = 40
	ipv4MinHeaderLen = 20
	routerICMPv6Cap  = 1280
	routerICMPv4Cap  = 576
)

// Translate4to6 reads a complete IPv4 datagram from ctx.InBuffer[:ctx.InSize]
// and, on success, writes the translated IPv6 datagram into
// ctx.OutBuffer[:ctx.OutSize]. It returns the disposition outcome; callers
// (the worker loop) only need to know whether to send ctx.OutBuffer,
// silently move on, or check for an ICMP reply already queued via C7.
func Translate4to6(ctx *ThreadContext) outcome {
	in := ctx.InBuffer[:ctx.InSize]
	cfg := ctx.Config

	if len(in) < ipv4MinHeaderLen {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}
	if in[0]>>4 != 4 {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}

	ihl := int(in[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || ihl > len(in) {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}

	totalLen := int(binary.BigEndian.Uint16(in[2:4]))
	if totalLen < ihl || totalLen > len(in) {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}
	in = in[:totalLen]

	if _, ok := IPv4HeaderChecksum(in[:ihl]); !ok {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}
	existingChecksum := binary.BigEndian.Uint16(in[10:12])
	if recomputed, _ := IPv4HeaderChecksum(in[:ihl]); recomputed != existingChecksum {
		return dropSilently(ctx, metrics.DropReasonMalformedHeader)
	}

	var srcV4, dstV4 [4]byte
	copy(srcV4[:], in[12:16])
	copy(dstV4[:], in[16:20])

	if isForbiddenIPv4Source(cfg.Mode, srcV4) || isForbiddenIPv4Dest(cfg.Mode, dstV4) {
		return dropSilently(ctx, metrics.DropReasonForbiddenAddress)
	}

	flagsFrag := binary.BigEndian.Uint16(in[6:8])
	mf := flagsFrag&0x2000 != 0
	fragOffset := flagsFrag & 0x1fff
	isFragment := mf || fragOffset != 0

	if isFragment && !cfg.AllowForwardingFragmentedPackets {
		return dropSilently(ctx, metrics.DropReasonFragPolicy)
	}

	ttl := in[8]
	if ttl <= 1 {
		emitICMPv4TimeExceeded(ctx, in, srcV4)
		return outcomeDroppedWithReply
	}
	hopLimit := ttl - 1

	protocol := in[9]
	srcV6, dstV6 := synthesize4to6Addresses(cfg, srcV4, dstV4)

	out := ctx.OutBuffer[:]
	const ipv6HdrEnd = ipv6MinHeaderLen

	nextHeader := protocol
	if protocol == 1 {
		nextHeader = 58
	}

	trafficClassHigh, trafficClassLow, flowLabel := byte(0), byte(0), uint32(0)
	if cfg.CopyDSCPAndFlowLabel {
		dscpEcn := in[1]
		trafficClassHigh = dscpEcn >> 4
		trafficClassLow = dscpEcn << 4
	}
	if cfg.FlowLabelPolicy == FlowLabelHash5Tuple {
		flowLabel = hash5TupleIPv4(in, protocol) & 0xfffff
	}

	out[0] = 0x60 | trafficClassHigh
	out[1] = trafficClassLow | byte((flowLabel>>16)&0x0f)
	binary.BigEndian.PutUint16(out[2:4], uint16(flowLabel))
	out[6] = nextHeader
	out[7] = hopLimit
	copy(out[8:24], srcV6[:])
	copy(out[24:40], dstV6[:])

	payload := in[ihl:]
	var payloadOutLen int
	var ok bool

	switch {
	case protocol == 1: // ICMP, delegate to C5 -- only for the first fragment
		if isFragment && fragOffset != 0 {
			payloadOutLen = copy(out[ipv6HdrEnd:], payload)
			ok = true
		} else {
			payloadOutLen, ok = translateICMP4to6(cfg, payload, out[ipv6HdrEnd:], routerICMPv6Cap-ipv6HdrEnd)
			if ok {
				icmpCsum := computeICMPv6Checksum(srcV6, dstV6, out[ipv6HdrEnd:ipv6HdrEnd+payloadOutLen])
				binary.BigEndian.PutUint16(out[ipv6HdrEnd+2:ipv6HdrEnd+4], icmpCsum)
			}
		}
	case protocol == 6 || protocol == 17: // TCP / UDP
		payloadOutLen = copy(out[ipv6HdrEnd:], payload)
		ok = true
		if !isFragment || fragOffset == 0 {
			rewriteL4ChecksumFor4to6(protocol, srcV4, dstV4, srcV6, dstV6, uint16(len(payload)), out[ipv6HdrEnd:ipv6HdrEnd+payloadOutLen])
		}
	default:
		payloadOutLen = copy(out[ipv6HdrEnd:], payload)
		ok = true
	}

	if !ok {
		return dropSilently(ctx, metrics.DropReasonUntranslatableICMP)
	}

	outSize := ipv6HdrEnd + payloadOutLen
	binary.BigEndian.PutUint16(out[4:6], uint16(payloadOutLen))

	if outSize > int(cfg.LinkMTUv6) && !isFragment {
		// spec.md §4.4: oversized results trigger ICMPv4 Frag-Needed with
		// the MTU the sender should use.
		emitICMPv4FragNeeded(ctx, in, srcV4, cfg.LinkMTUv6-uint16(ipv6HdrEnd-ipv4MinHeaderLen))
		return outcomeDroppedWithReply
	}

	ctx.OutSize = outSize
	if ctx.Metrics != nil {
		ctx.Metrics.PacketsTranslated.WithLabelValues(metrics.Direction4to6).Inc()
	}
	return outcomeTranslated
}

func dropSilently(ctx *ThreadContext, reason string) outcome {
	if ctx.Metrics != nil {
		ctx.Metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
	return outcomeDroppedSilently
}

func isForbiddenIPv4Source(mode Mode, addr [4]byte) bool {
	return addr == [4]byte{0, 0, 0, 0} || addr[0] == 127
}

func isForbiddenIPv4Dest(mode Mode, addr [4]byte) bool {
	return addr == [4]byte{255, 255, 255, 255} || addr[0] == 127
}

// rewriteL4ChecksumFor4to6 recomputes the TCP/UDP checksum across the
// pseudo-header swap using the incremental method (spec.md §4.4): the
// payload is never rescanned. A zero UDP checksum is treated as "absent"
// under IPv4 semantics and always gets a freshly computed full checksum,
// since RFC 7915/6145 forbid a zero UDP checksum in IPv6.
func rewriteL4ChecksumFor4to6(protocol byte, srcV4, dstV4 [4]byte, srcV6, dstV6 [16]byte, l4Len uint16, l4 []byte) {
	checksumOffset := 16
	if protocol == 17 {
		checksumOffset = 6
	}
	if len(l4) < checksumOffset+2 {
		return
	}

	oldChecksum := binary.BigEndian.Uint16(l4[checksumOffset : checksumOffset+2])
	if protocol == 17 && oldChecksum == 0 {
		ph := PseudoHeaderIPv6(srcV6, dstV6, 17, uint32(l4Len))
		newChecksum := RFC1071(ph[:], l4)
		binary.BigEndian.PutUint16(l4[checksumOffset:checksumOffset+2], newChecksum)
		return
	}

	oldPH := PseudoHeaderIPv4(srcV4, dstV4, protocol, l4Len)
	var protoForV6 uint8 = protocol
	newPH := PseudoHeaderIPv6(srcV6, dstV6, protoForV6, uint32(l4Len))
	newChecksum := Incremental(oldChecksum, oldPH[:], newPH[:])
	binary.BigEndian.PutUint16(l4[checksumOffset:checksumOffset+2], newChecksum)
}

func computeICMPv6Checksum(src, dst [16]byte, icmp []byte) uint16 {
	ph := PseudoHeaderIPv6(src, dst, 58, uint32(len(icmp)))
	binary.BigEndian.PutUint16(icmp[2:4], 0)
	return RFC1071(ph[:], icmp)
}

func hash5TupleIPv4(in []byte, protocol byte) uint32 {
	h := fnv.New32a()
	h.Write(in[12:20])
	h.Write([]byte{protocol})
	if protocol == 6 || protocol == 17 {
		ihl := int(in[0]&0x0f) * 4
		if len(in) >= ihl+4 {
			h.Write(in[ihl : ihl+4])
		}
	}
	return h.Sum32()
}
