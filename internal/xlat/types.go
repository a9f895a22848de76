package xlat

import (
	"sync/atomic"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlog"
)

// MTUMax bounds every packet buffer this package allocates: the largest
// IPv4/IPv6 datagram addressable by the 16-bit length fields the
// translators rewrite.
const MTUMax = 65535

/* Atomic Boolean, grounded on the teacher's device.go isUp/isClosed pattern */

const (
	atomicFalse = int32(iota)
	atomicTrue
)

// AtomicBool is a lock-free boolean flag. Engine uses one for
// should_keep_running, polled at the head of every worker iteration; Run
// sets it, and Stop or a worker that hits a fatal error clears it.
type AtomicBool struct {
	flag int32
}

func (a *AtomicBool) Get() bool {
	return atomic.LoadInt32(&a.flag) == atomicTrue
}

func (a *AtomicBool) Set(val bool) {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	atomic.StoreInt32(&a.flag, flag)
}

func (a *AtomicBool) Swap(val bool) bool {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	return atomic.SwapInt32(&a.flag, flag) == atomicTrue
}

// Mode selects which address-synthesis rules the translators apply.
type Mode int

const (
	ModeNAT64 Mode = iota
	ModeCLAT
	ModeSIIT
)

func (m Mode) String() string {
	switch m {
	case ModeNAT64:
		return "NAT64"
	case ModeCLAT:
		return "CLAT"
	case ModeSIIT:
		return "SIIT"
	default:
		return "unknown"
	}
}

// FlowLabelPolicy resolves the Open Question on IPv6 flow-label synthesis
// (SPEC_FULL.md §9.1).
type FlowLabelPolicy int

const (
	FlowLabelZero FlowLabelPolicy = iota
	FlowLabelHash5Tuple
)

// Config is the validated, read-only configuration snapshot shared by every
// worker. It is built once by internal/config, handed to Engine, and never
// mutated for the lifetime of the process -- the only sharing the
// concurrency model allows (spec.md §5).
type Config struct {
	Mode Mode

	// TranslatorIPv4 / TranslatorIPv6 are the translator's own addresses,
	// used as the source of self-originated ICMP (C7).
	TranslatorIPv4 [4]byte
	TranslatorIPv6 [16]byte

	// RouterGeneratedPacketTTL is the hop-limit/TTL stamped on
	// self-originated ICMP.
	RouterGeneratedPacketTTL uint8

	// IPv6Prefix holds the RFC 6052 translation prefix, up to 96 bits, in
	// its first IPv6PrefixLength/8 bytes; the rest is embedded IPv4 octets
	// and reserved "u" byte per-packet (see EmbedIPv4 in addr.go).
	IPv6Prefix [12]byte
	// IPv6PrefixLength is one of {32, 40, 48, 56, 64, 96}, per RFC 6052
	// §2.2's prefix-length table (the well-known prefix 64:ff9b::/96 uses
	// 96).
	IPv6PrefixLength uint8

	// IPv4Prefix holds the parsed ipv4_prefix setting. No translator reads
	// it: in SIIT mode both IPv4 addresses are extracted from the IPv6
	// prefix (see synthesize6to4Addresses in addr.go).
	IPv4Prefix [4]byte

	// NAT64DestinationMapping is the single IPv6 address NAT64 mode maps
	// every translated destination onto (spec.md §4.4).
	NAT64DestinationMapping [16]byte

	// FragmentIDPrefix is the high 16 bits of every IPv6 fragment
	// identifier this translator assigns; the low 16 come from the
	// per-worker PRNG.
	FragmentIDPrefix uint16

	CopyDSCPAndFlowLabel              bool
	AllowForwardingFragmentedPackets  bool
	GenerateChecksumsForUntranslatableICMP bool
	FlowLabelPolicy                   FlowLabelPolicy

	LinkMTUv4 uint16
	LinkMTUv6 uint16

	WorkerCount int

	// PRNGSeedBase combines with a worker's index (XOR) to derive that
	// worker's private fragment-ID PRNG seed.
	PRNGSeedBase uint32
}

// ThreadContext (C1) is exclusively owned by one worker for its entire
// lifetime: fixed-capacity scratch buffers, endpoint handles, and private
// PRNG state. It is never shared across workers (invariant 5).
type ThreadContext struct {
	WorkerIndex int

	InBuffer  [MTUMax]byte
	InSize    int
	OutBuffer [MTUMax]byte
	OutSize   int

	ReadEndpoint  Endpoint
	WriteEndpoint Endpoint

	Config *Config

	fragIDPRNG xorshift32

	Metrics *metrics.Counters
	Log     *xlog.Logger
}

// NewThreadContext allocates a worker's private scratch space and seeds its
// fragment-ID PRNG from cfg.PRNGSeedBase XOR workerIndex, so runs are
// reproducible under a fixed seed while every worker's stream still differs.
func NewThreadContext(workerIndex int, cfg *Config, read, write Endpoint, m *metrics.Counters, log *xlog.Logger) *ThreadContext {
	seed := cfg.PRNGSeedBase ^ uint32(workerIndex)
	return &ThreadContext{
		WorkerIndex:   workerIndex,
		ReadEndpoint:  read,
		WriteEndpoint: write,
		Config:        cfg,
		fragIDPRNG:    newXorshift32(seed),
		Metrics:       m,
		Log:           log,
	}
}

// NextFragmentID produces a fresh IPv6 fragment identifier: the
// configured prefix in the high 16 bits, the next PRNG word in the low 16.
func (tc *ThreadContext) NextFragmentID() uint32 {
	return uint32(tc.Config.FragmentIDPrefix)<<16 | uint32(tc.fragIDPRNG.next16())
}

// Endpoint is the byte-oriented, packet-granular read/write handle C2 reads
// from and writes to. internal/iodev supplies concrete implementations
// (TUN device, inherited fd pair); this package only ever depends on the
// interface, matching spec.md's "opaque byte-oriented handles" framing.
type Endpoint interface {
	// Read reads exactly one packet into buf, returning the number of
	// bytes read. Implementations retry EINTR/EAGAIN internally and only
	// return an error that satisfies IsFatal for EIO/EBADF/closed-endpoint
	// conditions.
	Read(buf []byte) (int, error)

	// Write writes exactly one packet. Same retry/fatal-error contract as
	// Read.
	Write(buf []byte) error
}
