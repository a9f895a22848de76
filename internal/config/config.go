// Package config loads and validates Tundra's YAML configuration file,
// producing the read-only xlat.Config snapshot the translation core
// consumes. File parsing and validation depth are deliberately out of the
// core's scope (spec.md §1); this package is the concrete collaborator
// that owns them, built the way gobfd's config package loads its YAML
// configuration with koanf/v2.
package config

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlat"
)

// ioMinMTUv6 is the RFC 8200-mandated IPv6 minimum link MTU; clamping
// link_mtu_ipv6 below it would make this translator unable to emit its
// own unfragmentable Packet Too Big replies, resolved as Open Question 3
// (SPEC_FULL.md §9).
const ioMinMTUv6 = 1280

// File is the on-disk shape of tundra.yaml, unmarshaled by koanf before
// being converted into the validated xlat.Config the core consumes.
type File struct {
	Mode string `koanf:"mode"`

	TranslatorIPv4 string `koanf:"translator_ipv4"`
	TranslatorIPv6 string `koanf:"translator_ipv6"`

	RouterGeneratedPacketTTL uint8 `koanf:"router_generated_packet_ttl"`

	IPv6Prefix               string `koanf:"ipv6_prefix"`
	IPv4Prefix               string `koanf:"ipv4_prefix"`
	NAT64DestinationMapping  string `koanf:"nat64_destination_mapping"`
	FragmentIdentifierPrefix uint16 `koanf:"translator_ipv6_fragment_identifier_prefix"`

	CopyDSCPAndFlowLabel                   bool   `koanf:"copy_dscp_and_flow_label"`
	AllowForwardingFragmentedPackets       bool   `koanf:"allow_forwarding_fragmented_packets"`
	GenerateChecksumsForUntranslatableICMP bool   `koanf:"generate_checksums_for_untranslatable_icmp"`
	FlowLabelPolicy                        string `koanf:"flow_label_policy"`

	WorkerCount int `koanf:"worker_count"`

	IOMode             string `koanf:"io_mode"`
	IOTUNInterfaceName string `koanf:"io_tun_interface_name"`

	LinkMTUv4 uint16 `koanf:"link_mtu_ipv4"`
	LinkMTUv6 uint16 `koanf:"link_mtu_ipv6"`

	PRNGSeedBase uint32 `koanf:"prng_seed_base"`

	MetricsListenAddr string `koanf:"metrics_listen_addr"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Defaults mirrors DefaultConfig()'s role in the teacher: sensible values
// every field inherits unless the YAML file or an env override replaces
// them.
func Defaults() *File {
	return &File{
		Mode:                                    "NAT64",
		RouterGeneratedPacketTTL:                64,
		IPv6Prefix:                              "64:ff9b::",
		CopyDSCPAndFlowLabel:                    true,
		AllowForwardingFragmentedPackets:        true,
		GenerateChecksumsForUntranslatableICMP:  false,
		FlowLabelPolicy:                         "zero",
		WorkerCount:                             runtime.NumCPU(),
		IOMode:                                  "tun",
		IOTUNInterfaceName:                      "tundra0",
		LinkMTUv4:                               1500,
		LinkMTUv6:                               1500,
		LogLevel:                                "info",
		LogFormat:                               "text",
	}
}

const envPrefix = "TUNDRA_"

// Load reads path as YAML, overlays TUNDRA_-prefixed environment variable
// overrides on top of Defaults(), and converts the result into a validated
// xlat.Config snapshot.
func Load(path string) (*xlat.Config, error) {
	f, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

// LoadRaw performs the same layered koanf load as Load but stops short of
// Build, returning the raw File -- used by the mktun/rmtun subcommands,
// which need io_tun_interface_name but not a fully validated xlat.Config
// (spec.md §6 requires only io_mode = tun for them, not NAT64/CLAT/SIIT
// addressing to be configured).
func LoadRaw(path string) (*File, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, Defaults()); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("config: load env overrides: %w", err)
	}

	f := &File{}
	if err := k.Unmarshal("", f); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return f, nil
}

// envKeyMapper transforms TUNDRA_WORKER_COUNT -> worker_count. Unlike
// gobfd's nested Config (which maps GRPC_ADDR -> grpc.addr because its
// fields are genuinely nested), File is flat -- every koanf tag is a
// single underscore-separated key -- so only the prefix is stripped and
// the case is lowered; the underscores themselves are the key, not a
// nesting delimiter.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}

func loadDefaults(k *koanf.Koanf, d *File) error {
	defaultMap := map[string]any{
		"mode":                         d.Mode,
		"router_generated_packet_ttl":  d.RouterGeneratedPacketTTL,
		"ipv6_prefix":                  d.IPv6Prefix,
		"copy_dscp_and_flow_label":     d.CopyDSCPAndFlowLabel,
		"allow_forwarding_fragmented_packets":        d.AllowForwardingFragmentedPackets,
		"generate_checksums_for_untranslatable_icmp": d.GenerateChecksumsForUntranslatableICMP,
		"flow_label_policy":                          d.FlowLabelPolicy,
		"worker_count":                                d.WorkerCount,
		"io_mode":                                     d.IOMode,
		"io_tun_interface_name":                       d.IOTUNInterfaceName,
		"link_mtu_ipv4":                                d.LinkMTUv4,
		"link_mtu_ipv6":                                d.LinkMTUv6,
		"log_level":                                    d.LogLevel,
		"log_format":                                   d.LogFormat,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrUnknownMode            = errors.New("config: mode must be NAT64, CLAT or SIIT")
	ErrInvalidTranslatorIPv4  = errors.New("config: translator_ipv4 is not a valid IPv4 address")
	ErrInvalidTranslatorIPv6  = errors.New("config: translator_ipv6 is not a valid IPv6 address")
	ErrInvalidIPv6Prefix      = errors.New("config: ipv6_prefix is not a valid IPv6 prefix")
	ErrInvalidIPv6PrefixLen   = errors.New("config: ipv6_prefix length must be one of 32,40,48,56,64,96")
	ErrMissingNAT64Mapping    = errors.New("config: nat64_destination_mapping is required in NAT64 mode")
	ErrInvalidWorkerCount     = errors.New("config: worker_count must be >= 1")
	ErrUnknownIOMode          = errors.New("config: io_mode must be tun or fd-pair")
	ErrUnknownFlowLabelPolicy = errors.New("config: flow_label_policy must be zero or hash-5-tuple")
)

// Build converts a parsed File into a validated, immutable xlat.Config.
// This is the boundary spec.md §1 draws: everything left of Build deals in
// YAML and strings; everything right of it is the core's own snapshot
// type.
func Build(f *File) (*xlat.Config, error) {
	cfg := &xlat.Config{}

	switch strings.ToUpper(f.Mode) {
	case "NAT64":
		cfg.Mode = xlat.ModeNAT64
	case "CLAT":
		cfg.Mode = xlat.ModeCLAT
	case "SIIT":
		cfg.Mode = xlat.ModeSIIT
	default:
		return nil, ErrUnknownMode
	}

	if f.TranslatorIPv4 != "" {
		ip := net.ParseIP(f.TranslatorIPv4).To4()
		if ip == nil {
			return nil, ErrInvalidTranslatorIPv4
		}
		copy(cfg.TranslatorIPv4[:], ip)
	}
	if f.TranslatorIPv6 != "" {
		ip := net.ParseIP(f.TranslatorIPv6).To16()
		if ip == nil || ip.To4() != nil {
			return nil, ErrInvalidTranslatorIPv6
		}
		copy(cfg.TranslatorIPv6[:], ip)
	}

	cfg.RouterGeneratedPacketTTL = f.RouterGeneratedPacketTTL

	prefixIP, prefixLen, err := parseIPv6Prefix(f.IPv6Prefix)
	if err != nil {
		return nil, err
	}
	copy(cfg.IPv6Prefix[:], prefixIP[:12])
	cfg.IPv6PrefixLength = prefixLen

	if f.IPv4Prefix != "" {
		ip := net.ParseIP(f.IPv4Prefix).To4()
		if ip == nil {
			return nil, fmt.Errorf("config: ipv4_prefix: %w", ErrInvalidTranslatorIPv4)
		}
		copy(cfg.IPv4Prefix[:], ip)
	}

	if cfg.Mode == xlat.ModeNAT64 {
		if f.NAT64DestinationMapping == "" {
			return nil, ErrMissingNAT64Mapping
		}
		ip := net.ParseIP(f.NAT64DestinationMapping).To16()
		if ip == nil {
			return nil, ErrMissingNAT64Mapping
		}
		copy(cfg.NAT64DestinationMapping[:], ip)
	}

	cfg.FragmentIDPrefix = f.FragmentIdentifierPrefix
	cfg.CopyDSCPAndFlowLabel = f.CopyDSCPAndFlowLabel
	cfg.AllowForwardingFragmentedPackets = f.AllowForwardingFragmentedPackets
	cfg.GenerateChecksumsForUntranslatableICMP = f.GenerateChecksumsForUntranslatableICMP

	switch f.FlowLabelPolicy {
	case "", "zero":
		cfg.FlowLabelPolicy = xlat.FlowLabelZero
	case "hash-5-tuple":
		cfg.FlowLabelPolicy = xlat.FlowLabelHash5Tuple
	default:
		return nil, ErrUnknownFlowLabelPolicy
	}

	if f.WorkerCount < 1 {
		return nil, ErrInvalidWorkerCount
	}
	cfg.WorkerCount = f.WorkerCount

	cfg.PRNGSeedBase = f.PRNGSeedBase

	cfg.LinkMTUv4 = f.LinkMTUv4
	cfg.LinkMTUv6 = f.LinkMTUv6
	if cfg.LinkMTUv6 < ioMinMTUv6 {
		cfg.LinkMTUv6 = ioMinMTUv6
	}

	switch f.IOMode {
	case "tun", "fd-pair":
	default:
		return nil, ErrUnknownIOMode
	}

	return cfg, nil
}

// ClampedIPv6MTUWarning reports whether f's configured IPv6 link MTU was
// below the 1280 floor Build silently raised it to, so callers can log a
// one-time startup warning (SPEC_FULL.md §9.3) without Build itself
// depending on internal/xlog.
func ClampedIPv6MTUWarning(f *File) (wasClampedFrom uint16, clamped bool) {
	if f.LinkMTUv6 != 0 && f.LinkMTUv6 < ioMinMTUv6 {
		return f.LinkMTUv6, true
	}
	return 0, false
}

func parseIPv6Prefix(s string) (ip [16]byte, prefixLen uint8, err error) {
	if s == "" {
		return ip, 0, ErrInvalidIPv6Prefix
	}

	length := uint8(96)
	addrPart := s
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		addrPart = s[:idx]
		var n int
		if _, scanErr := fmt.Sscanf(s[idx+1:], "%d", &n); scanErr != nil {
			return ip, 0, ErrInvalidIPv6Prefix
		}
		length = uint8(n)
	}

	switch length {
	case 32, 40, 48, 56, 64, 96:
	default:
		return ip, 0, ErrInvalidIPv6PrefixLen
	}

	parsed := net.ParseIP(addrPart).To16()
	if parsed == nil || parsed.To4() != nil {
		return ip, 0, ErrInvalidIPv6Prefix
	}
	copy(ip[:], parsed)
	return ip, length, nil
}
