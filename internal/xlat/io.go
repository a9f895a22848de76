package xlat

import (
	"encoding/binary"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
)

// I/O façade (C2). recv_into_in/send_ipv4_possibly_fragmented/
// send_ipv6_possibly_fragmented from spec.md §4.3, built directly on top of
// the Endpoint interface internal/iodev supplies.

// RecvIntoIn performs one packet-granular read from ctx.ReadEndpoint into
// ctx.InBuffer, setting ctx.InSize. Reads below the minimum IP header (20
// bytes) are treated as short reads: InSize is forced to zero so the
// translate step drops the packet silently, per spec.md §4.3. A fatal
// Endpoint error propagates unchanged for the worker loop to classify via
// IsFatal.
func RecvIntoIn(ctx *ThreadContext) error {
	n, err := ctx.ReadEndpoint.Read(ctx.InBuffer[:])
	if err != nil {
		return err
	}
	if n < 20 {
		ctx.InSize = 0
		return nil
	}
	ctx.InSize = n
	return nil
}

// SendIPv4PossiblyFragmented examines ctx.OutBuffer as an IPv4 datagram. If
// it already fits under the configured link MTU, or the Don't-Fragment bit
// is set, it is written once. Otherwise it is split on 8-byte payload
// boundaries, each fragment getting its own fragment_offset/MF and a
// recomputed IPv4 header checksum -- the transport checksum is never
// touched during fragmentation (spec.md §4.3).
func SendIPv4PossiblyFragmented(ctx *ThreadContext) error {
	buf := ctx.OutBuffer[:ctx.OutSize]
	if len(buf) < 20 {
		return ErrInvariantViolation
	}

	ihl := int(buf[0]&0x0f) * 4
	if ihl < 20 || ihl > len(buf) {
		return ErrInvariantViolation
	}

	flagsAndFrag := binary.BigEndian.Uint16(buf[6:8])
	df := flagsAndFrag&0x4000 != 0

	linkMTU := int(ctx.Config.LinkMTUv4)
	if len(buf) <= linkMTU || df {
		return ctx.WriteEndpoint.Write(buf)
	}

	return sendIPv4Fragments(ctx, buf, ihl, linkMTU)
}

func sendIPv4Fragments(ctx *ThreadContext, buf []byte, ihl, linkMTU int) error {
	header := buf[:ihl]
	payload := buf[ihl:]

	maxPayloadPerFragment := ((linkMTU - ihl) / 8) * 8
	if maxPayloadPerFragment <= 0 {
		return ErrInvariantViolation
	}

	origFlagsFrag := binary.BigEndian.Uint16(buf[6:8])
	origMF := origFlagsFrag&0x2000 != 0
	origOffset := (origFlagsFrag & 0x1fff) * 8

	var scratch [MTUMax]byte

	for offset := 0; offset < len(payload); offset += maxPayloadPerFragment {
		end := offset + maxPayloadPerFragment
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		isLastChunk := end == len(payload)

		fragLen := ihl + len(chunk)
		frag := scratch[:fragLen]
		copy(frag[:ihl], header)
		copy(frag[ihl:], chunk)

		binary.BigEndian.PutUint16(frag[2:4], uint16(fragLen))

		fragOffsetUnits := (origOffset + uint16(offset)) / 8
		var flagsFrag uint16 = fragOffsetUnits & 0x1fff
		if !isLastChunk || origMF {
			flagsFrag |= 0x2000
		}
		binary.BigEndian.PutUint16(frag[6:8], flagsFrag)

		binary.BigEndian.PutUint16(frag[10:12], 0)
		csum, ok := IPv4HeaderChecksum(frag[:ihl])
		if !ok {
			return ErrInvariantViolation
		}
		binary.BigEndian.PutUint16(frag[10:12], csum)

		if err := ctx.WriteEndpoint.Write(frag); err != nil {
			return err
		}
		if ctx.Metrics != nil {
			ctx.Metrics.FragmentsEmitted.WithLabelValues(metrics.Direction6to4).Inc()
		}
	}
	return nil
}

// SendIPv6PossiblyFragmented is send_ipv4_possibly_fragmented's IPv6
// analogue: it inserts a Fragment Header (next-header 44) when the
// datagram exceeds the configured link MTU, with an identifier derived
// from the configured frag_id_prefix and the per-worker PRNG.
func SendIPv6PossiblyFragmented(ctx *ThreadContext) error {
	buf := ctx.OutBuffer[:ctx.OutSize]
	if len(buf) < 40 {
		return ErrInvariantViolation
	}

	linkMTU := int(ctx.Config.LinkMTUv6)
	if len(buf) <= linkMTU {
		return ctx.WriteEndpoint.Write(buf)
	}

	return sendIPv6Fragments(ctx, buf, linkMTU)
}

func sendIPv6Fragments(ctx *ThreadContext, buf []byte, linkMTU int) error {
	const ipv6HeaderLen = 40
	const fragHeaderLen = 8

	header := buf[:ipv6HeaderLen]
	nextHeader := header[6]
	payload := buf[ipv6HeaderLen:]

	maxPayloadPerFragment := ((linkMTU - ipv6HeaderLen - fragHeaderLen) / 8) * 8
	if maxPayloadPerFragment <= 0 {
		return ErrInvariantViolation
	}

	fragID := ctx.NextFragmentID()

	var scratch [MTUMax]byte

	for offset := 0; offset < len(payload); offset += maxPayloadPerFragment {
		end := offset + maxPayloadPerFragment
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		isLastChunk := end == len(payload)

		fragLen := ipv6HeaderLen + fragHeaderLen + len(chunk)
		frag := scratch[:fragLen]
		copy(frag[:ipv6HeaderLen], header)
		frag[6] = 44 // next-header: Fragment

		binary.BigEndian.PutUint16(frag[4:6], uint16(fragHeaderLen+len(chunk)))

		fh := frag[ipv6HeaderLen : ipv6HeaderLen+fragHeaderLen]
		fh[0] = nextHeader
		fh[1] = 0
		var offsetAndM uint16 = uint16(offset/8) << 3
		if !isLastChunk {
			offsetAndM |= 1
		}
		binary.BigEndian.PutUint16(fh[2:4], offsetAndM)
		binary.BigEndian.PutUint32(fh[4:8], fragID)

		copy(frag[ipv6HeaderLen+fragHeaderLen:], chunk)

		if err := ctx.WriteEndpoint.Write(frag); err != nil {
			return err
		}
		if ctx.Metrics != nil {
			ctx.Metrics.FragmentsEmitted.WithLabelValues(metrics.Direction4to6).Inc()
		}
	}
	return nil
}
