package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolver hits partitioned by the step that matched; "none" counts unattributed sales
	attributionMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_matches_total",
			Help: "Sales attributed to a click, by resolver step",
		},
		[]string{"step"},
	)

	// Dispatch outcomes partitioned by destination
	conversionDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_dispatch_total",
			Help: "Conversion sends by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)
)

const (
	outcomeSent        = "sent"
	outcomeFailed      = "failed"
	outcomeAlreadySent = "already_sent"
	outcomeInFlight    = "in_flight"
	outcomeSkipped     = "skipped"
)
