package xlat

import (
	"encoding/binary"
	"testing"
)

// buildIPv4UDP constructs a well-formed IPv4/UDP datagram with a correct
// header checksum and a correct UDP checksum, for use as Translate4to6
// input across this file's tests.
func buildIPv4UDP(t *testing.T, src, dst [4]byte, ttl byte, payload []byte) []byte {
	t.Helper()

	const udpHdrLen = 8
	totalLen := 20 + udpHdrLen + len(payload)
	buf := make([]byte, totalLen)

	buf[0] = 0x45
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 0x1234)
	binary.BigEndian.PutUint16(buf[6:8], 0)
	buf[8] = ttl
	buf[9] = 17 // UDP
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])

	csum, ok := IPv4HeaderChecksum(buf[:20])
	if !ok {
		t.Fatal("IPv4HeaderChecksum failed on a 20-byte header")
	}
	binary.BigEndian.PutUint16(buf[10:12], csum)

	binary.BigEndian.PutUint16(buf[20:22], 40001)
	binary.BigEndian.PutUint16(buf[22:24], 53)
	binary.BigEndian.PutUint16(buf[24:26], uint16(udpHdrLen+len(payload)))
	binary.BigEndian.PutUint16(buf[26:28], 0)
	copy(buf[28:], payload)

	ph := PseudoHeaderIPv4(src, dst, 17, uint16(udpHdrLen+len(payload)))
	udpCsum := RFC1071(ph[:], buf[20:])
	binary.BigEndian.PutUint16(buf[26:28], udpCsum)

	return buf
}

func testNAT64Config() *Config {
	var prefix [12]byte
	copy(prefix[:], WellKnownNAT64Prefix[:])
	cfg := &Config{
		Mode:                     ModeNAT64,
		IPv6Prefix:               prefix,
		IPv6PrefixLength:         96,
		RouterGeneratedPacketTTL: 64,
		LinkMTUv4:                1500,
		LinkMTUv6:                1500,
		CopyDSCPAndFlowLabel:     true,
	}
	copy(cfg.NAT64DestinationMapping[:], []byte{
		0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
	})
	return cfg
}

func newTestContext(cfg *Config) *ThreadContext {
	return NewThreadContext(0, cfg, nil, nil, nil, nil)
}

func TestTranslate4to6TranslatesUDP(t *testing.T) {
	cfg := testNAT64Config()
	src := [4]byte{198, 51, 100, 7}
	dst := [4]byte{203, 0, 113, 9}
	in := buildIPv4UDP(t, src, dst, 64, []byte("hello"))

	ctx := newTestContext(cfg)
	copy(ctx.InBuffer[:], in)
	ctx.InSize = len(in)

	got := Translate4to6(ctx)
	if got != outcomeTranslated {
		t.Fatalf("Translate4to6 outcome = %v, want outcomeTranslated", got)
	}

	out := ctx.OutBuffer[:ctx.OutSize]
	if out[0]>>4 != 6 {
		t.Fatalf("output version nibble = %d, want 6", out[0]>>4)
	}
	if out[6] != 17 {
		t.Errorf("next header = %d, want 17 (UDP)", out[6])
	}
	if out[7] != 63 {
		t.Errorf("hop limit = %d, want 63 (TTL decremented)", out[7])
	}

	wantSrc := EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, src)
	var gotSrc [16]byte
	copy(gotSrc[:], out[8:24])
	if gotSrc != wantSrc {
		t.Errorf("synthesized source = %v, want %v", gotSrc, wantSrc)
	}

	var gotDst [16]byte
	copy(gotDst[:], out[24:40])
	if gotDst != cfg.NAT64DestinationMapping {
		t.Errorf("synthesized destination = %v, want configured mapping %v", gotDst, cfg.NAT64DestinationMapping)
	}
}

func TestTranslate4to6DropsExpiredTTL(t *testing.T) {
	cfg := testNAT64Config()
	in := buildIPv4UDP(t, [4]byte{198, 51, 100, 7}, [4]byte{203, 0, 113, 9}, 1, []byte("x"))

	ctx := newTestContext(cfg)
	copy(ctx.InBuffer[:], in)
	ctx.InSize = len(in)

	got := Translate4to6(ctx)
	if got != outcomeDroppedWithReply {
		t.Fatalf("Translate4to6 outcome = %v, want outcomeDroppedWithReply (TTL expired)", got)
	}
}

func TestTranslate4to6DropsBadHeaderChecksum(t *testing.T) {
	cfg := testNAT64Config()
	in := buildIPv4UDP(t, [4]byte{198, 51, 100, 7}, [4]byte{203, 0, 113, 9}, 64, []byte("x"))
	in[10] ^= 0xff // corrupt the stored header checksum

	ctx := newTestContext(cfg)
	copy(ctx.InBuffer[:], in)
	ctx.InSize = len(in)

	got := Translate4to6(ctx)
	if got != outcomeDroppedSilently {
		t.Fatalf("Translate4to6 outcome = %v, want outcomeDroppedSilently (bad checksum)", got)
	}
}

func TestTranslate4to6DropsForbiddenSource(t *testing.T) {
	cfg := testNAT64Config()
	in := buildIPv4UDP(t, [4]byte{127, 0, 0, 1}, [4]byte{203, 0, 113, 9}, 64, []byte("x"))

	ctx := newTestContext(cfg)
	copy(ctx.InBuffer[:], in)
	ctx.InSize = len(in)

	got := Translate4to6(ctx)
	if got != outcomeDroppedSilently {
		t.Fatalf("Translate4to6 outcome = %v, want outcomeDroppedSilently (forbidden loopback source)", got)
	}
}

func TestTranslate4to6RejectsTruncatedHeader(t *testing.T) {
	cfg := testNAT64Config()
	ctx := newTestContext(cfg)
	ctx.InBuffer[0] = 0x45
	ctx.InSize = 10 // shorter than the minimum 20-byte IPv4 header

	got := Translate4to6(ctx)
	if got != outcomeDroppedSilently {
		t.Fatalf("Translate4to6 outcome = %v, want outcomeDroppedSilently (truncated header)", got)
	}
}
