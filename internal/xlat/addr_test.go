package xlat

import (
	"net"
	"testing"
)

func mustParseV6(t *testing.T, s string) [16]byte {
	t.Helper()
	ip := net.ParseIP(s).To16()
	if ip == nil {
		t.Fatalf("invalid IPv6 address %q", s)
	}
	var out [16]byte
	copy(out[:], ip)
	return out
}

func TestEmbedIPv4AllPrefixLengths(t *testing.T) {
	v4 := [4]byte{192, 0, 2, 33}
	tests := []struct {
		prefixLen uint8
		prefix    string
		want      string
	}{
		{32, "2001:db8::", "2001:db8:c000:0221::"},
		{40, "2001:db8::", "2001:db8:c0:2:21::"},
		{48, "2001:db8::", "2001:db8:0:c000:2:2100::"},
		{56, "2001:db8::", "2001:db8:0:c0:0:221::"},
		{64, "2001:db8::", "2001:db8::c0:2:2100:0"},
		{96, "64:ff9b::", "64:ff9b::c000:221"},
	}

	for _, tt := range tests {
		var prefix [12]byte
		copy(prefix[:], mustParseV6(t, tt.prefix)[:12])

		got := EmbedIPv4(prefix, tt.prefixLen, v4)
		want := mustParseV6(t, tt.want)
		if got != want {
			t.Errorf("EmbedIPv4(prefix=%s, len=%d, v4=%v) = %v, want %v", tt.prefix, tt.prefixLen, v4, got, want)
		}
	}
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	prefixLens := []uint8{32, 40, 48, 56, 64, 96}
	v4Samples := [][4]byte{
		{0, 0, 0, 0},
		{255, 255, 255, 255},
		{192, 0, 2, 1},
		{203, 0, 113, 254},
		{10, 11, 12, 13},
	}

	var prefix [12]byte
	copy(prefix[:], mustParseV6(t, "2001:db8:1234:5678:9abc::")[:12])

	for _, pl := range prefixLens {
		for _, v4 := range v4Samples {
			embedded := EmbedIPv4(prefix, pl, v4)
			got := ExtractIPv4(embedded, pl)
			if got != v4 {
				t.Errorf("prefix len %d: ExtractIPv4(EmbedIPv4(%v)) = %v, want %v", pl, v4, got, v4)
			}
		}
	}
}

func TestWellKnownPrefixMatchesRFCExample(t *testing.T) {
	want := mustParseV6(t, "64:ff9b::")
	var prefix [16]byte
	copy(prefix[:12], WellKnownNAT64Prefix[:])
	if prefix != want {
		t.Errorf("WellKnownNAT64Prefix = %v, want %v", prefix, want)
	}
}

func TestPrefixMatches(t *testing.T) {
	var prefix [12]byte
	copy(prefix[:], mustParseV6(t, "2001:db8::")[:12])

	inside := mustParseV6(t, "2001:db8::1")
	outside := mustParseV6(t, "2001:db9::1")

	if !PrefixMatches(inside, prefix, 32) {
		t.Error("expected address within prefix to match")
	}
	if PrefixMatches(outside, prefix, 32) {
		t.Error("expected address outside prefix not to match")
	}
}

func TestSynthesize4to6AddressesPerMode(t *testing.T) {
	var prefix [12]byte
	copy(prefix[:], WellKnownNAT64Prefix[:])

	cfg := &Config{
		Mode:             ModeNAT64,
		IPv6Prefix:       prefix,
		IPv6PrefixLength: 96,
	}
	copy(cfg.NAT64DestinationMapping[:], mustParseV6(t, "2001:db8::1")[:])

	srcV4 := [4]byte{198, 51, 100, 7}
	dstV4 := [4]byte{203, 0, 113, 9}

	src, dst := synthesize4to6Addresses(cfg, srcV4, dstV4)
	wantSrc := EmbedIPv4(prefix, 96, srcV4)
	if src != wantSrc {
		t.Errorf("NAT64 src = %v, want %v", src, wantSrc)
	}
	if dst != cfg.NAT64DestinationMapping {
		t.Errorf("NAT64 dst = %v, want configured mapping %v", dst, cfg.NAT64DestinationMapping)
	}

	cfg.Mode = ModeCLAT
	copy(cfg.TranslatorIPv6[:], mustParseV6(t, "2001:db8::2")[:])
	src, dst = synthesize4to6Addresses(cfg, srcV4, dstV4)
	if src != cfg.TranslatorIPv6 {
		t.Errorf("CLAT src = %v, want translator address %v", src, cfg.TranslatorIPv6)
	}
	if wantDst := EmbedIPv4(prefix, 96, dstV4); dst != wantDst {
		t.Errorf("CLAT dst = %v, want %v", dst, wantDst)
	}

	cfg.Mode = ModeSIIT
	src, dst = synthesize4to6Addresses(cfg, srcV4, dstV4)
	if src != wantSrc {
		t.Errorf("SIIT src = %v, want %v", src, wantSrc)
	}
	if wantDst := EmbedIPv4(prefix, 96, dstV4); dst != wantDst {
		t.Errorf("SIIT dst = %v, want %v", dst, wantDst)
	}
}

func TestSynthesize6to4AddressesRejectsOutOfPrefix(t *testing.T) {
	var prefix [12]byte
	copy(prefix[:], WellKnownNAT64Prefix[:])

	cfg := &Config{
		Mode:             ModeNAT64,
		IPv6Prefix:       prefix,
		IPv6PrefixLength: 96,
	}

	badSrc := mustParseV6(t, "2001:db8::1")
	dst := mustParseV6(t, "64:ff9b::c000:201")

	_, _, ok := synthesize6to4Addresses(cfg, badSrc, dst)
	if ok {
		t.Error("expected synthesize6to4Addresses to reject a source address outside the configured prefix")
	}
}

func TestSynthesize6to4AddressesRoundTripsNAT64(t *testing.T) {
	var prefix [12]byte
	copy(prefix[:], WellKnownNAT64Prefix[:])

	cfg := &Config{
		Mode:             ModeNAT64,
		IPv6Prefix:       prefix,
		IPv6PrefixLength: 96,
	}
	copy(cfg.TranslatorIPv4[:], []byte{192, 0, 2, 55})

	v4 := [4]byte{1, 2, 3, 4}
	v6src := EmbedIPv4(prefix, 96, v4)
	v6dst := mustParseV6(t, "2001:db8::9")

	src, dst, ok := synthesize6to4Addresses(cfg, v6src, v6dst)
	if !ok {
		t.Fatal("expected synthesize6to4Addresses to accept a well-formed NAT64 source")
	}
	if src != v4 {
		t.Errorf("src = %v, want %v", src, v4)
	}
	if dst != cfg.TranslatorIPv4 {
		t.Errorf("dst = %v, want translator address %v", dst, cfg.TranslatorIPv4)
	}
}
