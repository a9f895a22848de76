package xlat

// Address synthesis per RFC 6052 §2.2 and the mode rules in spec.md §4.4 /
// §4.5. There is no teacher-side analogue for this file -- the WireGuard
// codebase never embeds one address family's bits into another's -- so it
// is grounded directly on the RFCs the spec names, written in the same
// pure-function, view-not-copy style as the checksum engine (C6) it
// composes with.

// EmbedIPv4 synthesizes an RFC 6052 IPv6 address from prefix (its first
// prefixLenBits/8 bytes significant) and a 32-bit IPv4 address, following
// the table in RFC 6052 §2.2:
//
//	PL  | bits 0-31 | 32-39 | 40-63       | 64-71 | 72-95       | 96-127
//	32  | prefix    | v4[0..4)                    | u=0   | v4 remainder(none) | 0
//
// Concretely, for each supported prefix length the 32 bits of v4 are laid
// contiguous across the prefix boundary, with a reserved all-zero octet
// ("u") inserted at bit offset 64 (byte 8) whenever the prefix boundary
// falls at or before that point.
func EmbedIPv4(prefix [12]byte, prefixLenBits uint8, v4 [4]byte) [16]byte {
	var out [16]byte

	switch prefixLenBits {
	case 32:
		copy(out[0:4], prefix[0:4])
		copy(out[4:8], v4[0:4])
		// out[8] is the reserved u-octet, left zero.
		// out[9:16] is the zero suffix.
	case 40:
		copy(out[0:5], prefix[0:5])
		copy(out[5:8], v4[0:3])
		// out[8] is the reserved u-octet.
		out[9] = v4[3]
		// out[10:16] zero suffix.
	case 48:
		copy(out[0:6], prefix[0:6])
		copy(out[6:8], v4[0:2])
		// out[8] is the reserved u-octet.
		copy(out[9:11], v4[2:4])
		// out[11:16] zero suffix.
	case 56:
		copy(out[0:7], prefix[0:7])
		out[7] = v4[0]
		// out[8] is the reserved u-octet.
		copy(out[9:12], v4[1:4])
		// out[12:16] zero suffix.
	case 64:
		copy(out[0:8], prefix[0:8])
		// out[8] is the reserved u-octet.
		copy(out[9:13], v4[0:4])
		// out[13:16] zero suffix.
	default: // 96, including the well-known prefix 64:ff9b::/96
		copy(out[0:12], prefix[0:12])
		copy(out[12:16], v4[0:4])
	}

	return out
}

// ExtractIPv4 is EmbedIPv4's inverse: it pulls the 32 embedded IPv4 octets
// back out of addr, given the same prefix length used to embed them. The
// prefix bytes themselves are not validated against addr here -- callers
// that need to verify addr actually matches the configured prefix do so
// separately (see translate6to4.go's address-validation step, spec.md
// §4.4's "source/destination not in reserved ranges forbidden by the
// active mode").
func ExtractIPv4(addr [16]byte, prefixLenBits uint8) (v4 [4]byte) {
	switch prefixLenBits {
	case 32:
		copy(v4[0:4], addr[4:8])
	case 40:
		copy(v4[0:3], addr[5:8])
		v4[3] = addr[9]
	case 48:
		copy(v4[0:2], addr[6:8])
		copy(v4[2:4], addr[9:11])
	case 56:
		v4[0] = addr[7]
		copy(v4[1:4], addr[9:12])
	case 64:
		copy(v4[0:4], addr[9:13])
	default: // 96
		copy(v4[0:4], addr[12:16])
	}
	return v4
}

// PrefixMatches reports whether addr's first prefixLenBits bits equal
// prefix's. Used to reject 6→4 source/destination addresses that don't
// belong to the configured translation prefix (the "forbidden ranges"
// check in spec.md §4.5).
func PrefixMatches(addr [16]byte, prefix [12]byte, prefixLenBits uint8) bool {
	fullBytes := int(prefixLenBits / 8)
	for i := 0; i < fullBytes && i < 12; i++ {
		if addr[i] != prefix[i] {
			return false
		}
	}
	return true
}

// WellKnownNAT64Prefix is 64:ff9b::/96, RFC 6052 §2.1's well-known prefix.
var WellKnownNAT64Prefix = [12]byte{0x00, 0x64, 0xff, 0x9b, 0, 0, 0, 0, 0, 0, 0, 0}

// synthesize4to6Addresses computes the IPv6 source/destination pair for a
// translated packet, per the mode table in spec.md §4.4.
func synthesize4to6Addresses(cfg *Config, srcV4, dstV4 [4]byte) (src, dst [16]byte) {
	switch cfg.Mode {
	case ModeNAT64:
		src = EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, srcV4)
		dst = cfg.NAT64DestinationMapping
	case ModeCLAT:
		src = cfg.TranslatorIPv6
		dst = EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, dstV4)
	default: // ModeSIIT
		src = EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, srcV4)
		dst = EmbedIPv4(cfg.IPv6Prefix, cfg.IPv6PrefixLength, dstV4)
	}
	return src, dst
}

// synthesize6to4Addresses is the reverse mapping used by C4, per spec.md
// §4.5. ok is false when an address required to carry an embedded IPv4
// address doesn't belong to the configured prefix -- callers must treat
// this as a forbidden-address packet-drop.
func synthesize6to4Addresses(cfg *Config, srcV6, dstV6 [16]byte) (src, dst [4]byte, ok bool) {
	switch cfg.Mode {
	case ModeNAT64:
		if !PrefixMatches(srcV6, cfg.IPv6Prefix, cfg.IPv6PrefixLength) {
			return src, dst, false
		}
		src = ExtractIPv4(srcV6, cfg.IPv6PrefixLength)
		dst = cfg.TranslatorIPv4
	case ModeCLAT:
		if !PrefixMatches(dstV6, cfg.IPv6Prefix, cfg.IPv6PrefixLength) {
			return src, dst, false
		}
		src = cfg.TranslatorIPv4
		dst = ExtractIPv4(dstV6, cfg.IPv6PrefixLength)
	default: // ModeSIIT
		if !PrefixMatches(srcV6, cfg.IPv6Prefix, cfg.IPv6PrefixLength) || !PrefixMatches(dstV6, cfg.IPv6Prefix, cfg.IPv6PrefixLength) {
			return src, dst, false
		}
		src = ExtractIPv4(srcV6, cfg.IPv6PrefixLength)
		dst = ExtractIPv4(dstV6, cfg.IPv6PrefixLength)
	}
	return src, dst, true
}
