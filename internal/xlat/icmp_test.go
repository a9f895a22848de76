package xlat

import (
	"encoding/binary"
	"testing"
)

func TestTranslateICMP4to6EchoRequest(t *testing.T) {
	icmpIn := []byte{8, 0, 0, 0, 0x12, 0x34, 0x00, 0x01, 'p', 'i', 'n', 'g'}
	out := make([]byte, 64)

	n, ok := translateICMP4to6(testNAT64Config(), icmpIn, out, 64)
	if !ok {
		t.Fatal("expected echo request to translate")
	}
	if out[0] != icmp6EchoRequest {
		t.Errorf("type = %d, want %d (ICMPv6 echo request)", out[0], icmp6EchoRequest)
	}
	if n != len(icmpIn) {
		t.Errorf("n = %d, want %d", n, len(icmpIn))
	}
	if string(out[8:n]) != "ping" {
		t.Errorf("body = %q, want %q", out[8:n], "ping")
	}
}

func TestTranslateICMP4to6DestUnreachablePortUnreachable(t *testing.T) {
	cfg := testNAT64Config()

	inner := buildIPv4UDP(t, [4]byte{198, 51, 100, 7}, [4]byte{203, 0, 113, 9}, 64, []byte("x"))
	icmpIn := make([]byte, 8+len(inner))
	icmpIn[0] = icmp4DestUnreachable
	icmpIn[1] = 3 // port unreachable
	copy(icmpIn[8:], inner)

	out := make([]byte, 200)
	n, ok := translateICMP4to6(cfg, icmpIn, out, 200)
	if !ok {
		t.Fatal("expected port-unreachable to translate")
	}
	if out[0] != icmp6DestUnreachable || out[1] != 4 {
		t.Errorf("type/code = %d/%d, want %d/4", out[0], out[1], icmp6DestUnreachable)
	}
	if n <= 8 {
		t.Error("expected an embedded offending packet to be appended")
	}
	if out[8]>>4 != 6 {
		t.Errorf("embedded packet version nibble = %d, want 6", out[8]>>4)
	}
}

func TestTranslateICMP4to6DropsUntranslatableType(t *testing.T) {
	icmpIn := []byte{4, 0, 0, 0, 0, 0, 0, 0} // source quench, no RFC 7915 equivalent
	out := make([]byte, 32)

	_, ok := translateICMP4to6(testNAT64Config(), icmpIn, out, 32)
	if ok {
		t.Error("expected source quench to be untranslatable")
	}
}

func TestTranslateICMP4to6PassesThroughUntranslatableWhenChecksumsRequested(t *testing.T) {
	cfg := testNAT64Config()
	cfg.GenerateChecksumsForUntranslatableICMP = true
	icmpIn := []byte{4, 7, 0, 0, 0, 0, 0, 0} // source quench, code left as-is
	out := make([]byte, 32)

	n, ok := translateICMP4to6(cfg, icmpIn, out, 32)
	if !ok {
		t.Fatal("expected pass-through when GenerateChecksumsForUntranslatableICMP is set")
	}
	if out[0] != 4 || out[1] != 7 {
		t.Errorf("type/code = %d/%d, want original 4/7 preserved", out[0], out[1])
	}
	if n != len(icmpIn) {
		t.Errorf("n = %d, want %d", n, len(icmpIn))
	}
}

func TestTranslateICMP6to4EchoReply(t *testing.T) {
	icmpIn := []byte{129, 0, 0, 0, 0x00, 0x01, 0x00, 0x02, 'p', 'o', 'n', 'g'}
	out := make([]byte, 64)

	n, ok := translateICMP6to4(testNAT64Config(), icmpIn, out, 64)
	if !ok {
		t.Fatal("expected echo reply to translate")
	}
	if out[0] != icmp4EchoReply {
		t.Errorf("type = %d, want %d (ICMPv4 echo reply)", out[0], icmp4EchoReply)
	}
	if string(out[8:n]) != "pong" {
		t.Errorf("body = %q, want %q", out[8:n], "pong")
	}
}

func TestTranslateICMP6to4PacketTooBigBecomesFragNeeded(t *testing.T) {
	cfg := testNAT64Config()
	srcV4 := [4]byte{198, 51, 100, 7}
	dstV4 := [4]byte{203, 0, 113, 9}
	srcV6 := EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, srcV4)
	dstV6 := EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, dstV4)
	copy(cfg.TranslatorIPv4[:], []byte{192, 0, 2, 200})

	inner := buildIPv6UDP(t, srcV6, dstV6, 64, []byte("x"))
	icmpIn := make([]byte, 8+len(inner))
	icmpIn[0] = icmp6PacketTooBig
	icmpIn[1] = 0
	binary.BigEndian.PutUint32(icmpIn[4:8], 1280)
	copy(icmpIn[8:], inner)

	out := make([]byte, 200)
	_, ok := translateICMP6to4(cfg, icmpIn, out, 200)
	if !ok {
		t.Fatal("expected Packet Too Big to translate")
	}
	if out[0] != icmp4DestUnreachable || out[1] != 4 {
		t.Errorf("type/code = %d/%d, want %d/4 (frag needed)", out[0], out[1], icmp4DestUnreachable)
	}
	if mtu := binary.BigEndian.Uint32(out[4:8]); mtu != 1280 {
		t.Errorf("next-hop MTU field = %d, want 1280", mtu)
	}
}

func TestTranslateICMP6to4DropsUntranslatableType(t *testing.T) {
	icmpIn := []byte{137, 0, 0, 0, 0, 0, 0, 0} // redirect, no ICMPv4 equivalent
	out := make([]byte, 32)

	_, ok := translateICMP6to4(testNAT64Config(), icmpIn, out, 32)
	if ok {
		t.Error("expected redirect to be untranslatable")
	}
}

func TestTranslateICMP6to4PassesThroughUntranslatableWhenChecksumsRequested(t *testing.T) {
	cfg := testNAT64Config()
	cfg.GenerateChecksumsForUntranslatableICMP = true
	icmpIn := []byte{137, 2, 0, 0, 0, 0, 0, 0} // redirect, code left as-is
	out := make([]byte, 32)

	n, ok := translateICMP6to4(cfg, icmpIn, out, 32)
	if !ok {
		t.Fatal("expected pass-through when GenerateChecksumsForUntranslatableICMP is set")
	}
	if out[0] != 137 || out[1] != 2 {
		t.Errorf("type/code = %d/%d, want original 137/2 preserved", out[0], out[1])
	}
	if n != len(icmpIn) {
		t.Errorf("n = %d, want %d", n, len(icmpIn))
	}
}

func TestMapDestUnreachableTablesRoundTripKnownCodes(t *testing.T) {
	v6type, v6code, ok := mapDestUnreachable4to6(3) // port unreachable
	if !ok || v6type != icmp6DestUnreachable || v6code != 4 {
		t.Errorf("mapDestUnreachable4to6(3) = (%d,%d,%v), want (%d,4,true)", v6type, v6code, ok, icmp6DestUnreachable)
	}

	v4code, ok := mapDestUnreachable6to4(4) // port unreachable
	if !ok || v4code != 3 {
		t.Errorf("mapDestUnreachable6to4(4) = (%d,%v), want (3,true)", v4code, ok)
	}
}
