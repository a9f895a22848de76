// Package metrics exposes the Prometheus counters tied to Tundra's error
// taxonomy (spec.md §7 / SPEC_FULL.md §4.9). Every terminal outcome of a
// translated packet increments exactly one counter here; the counters never
// gate or alter translation behavior, preserving the hot path's
// no-locks/no-allocation property -- the client library's atomic-add path
// allocates nothing per call.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counters groups every CounterVec the core touches. A single instance is
// shared read-only-by-reference across all workers, the same way the
// configuration snapshot is shared: the counters themselves are
// concurrency-safe via the client library, so no additional synchronization
// is introduced here.
type Counters struct {
	PacketsTranslated *prometheus.CounterVec // labels: direction
	PacketsDropped    *prometheus.CounterVec // labels: reason
	ICMPRepliesSent   *prometheus.CounterVec // labels: kind
	FragmentsEmitted  *prometheus.CounterVec // labels: direction
}

// New registers and returns the counter set against reg. Passing
// prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires it to promhttp's default handler.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		PacketsTranslated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tundra",
			Name:      "packets_translated_total",
			Help:      "Number of packets successfully translated, by direction.",
		}, []string{"direction"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tundra",
			Name:      "packets_dropped_total",
			Help:      "Number of packets dropped without a reply, by reason.",
		}, []string{"reason"}),
		ICMPRepliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tundra",
			Name:      "icmp_replies_sent_total",
			Help:      "Number of translator-originated ICMP replies sent, by kind.",
		}, []string{"kind"}),
		FragmentsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tundra",
			Name:      "fragments_emitted_total",
			Help:      "Number of IP fragments emitted on the egress path, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(c.PacketsTranslated, c.PacketsDropped, c.ICMPRepliesSent, c.FragmentsEmitted)
	return c
}

// Direction label values.
const (
	Direction4to6 = "4to6"
	Direction6to4 = "6to4"
)

// Drop reason label values, one per spec.md §7 packet-drop/policy-drop cause
// the core distinguishes.
const (
	DropReasonMalformedHeader      = "malformed_header"
	DropReasonForbiddenAddress     = "forbidden_address"
	DropReasonUnsupportedExtension = "unsupported_extension"
	DropReasonUntranslatableICMP   = "untranslatable_icmp"
	DropReasonTTLExpired           = "ttl_expired"
	DropReasonFragPolicy           = "fragmentation_policy"
	DropReasonRoutingTypeZero      = "routing_header_type0"
	DropReasonShortRead            = "short_read"
)

// ICMP reply kind label values.
const (
	ICMPKindTimeExceeded     = "time_exceeded"
	ICMPKindDestUnreachable  = "destination_unreachable"
	ICMPKindFragNeeded       = "fragmentation_needed"
	ICMPKindParameterProblem = "parameter_problem"
)
