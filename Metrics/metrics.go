package Metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	taskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aces_fuel",
			Name:      "task_transitions_total",
			Help:      "Task lifecycle writes by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aces_fuel",
			Name:      "image_uploads_total",
			Help:      "Completion image uploads by slot and outcome.",
		},
		[]string{"slot", "outcome"},
	)

	siteLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aces_fuel",
			Name:      "site_lookups_total",
			Help:      "Batched site directory lookups by axis.",
		},
		[]string{"axis"},
	)

	pushSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aces_fuel",
			Name:      "push_token_syncs_total",
			Help:      "Push token sync attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers the collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(taskTransitions, uploads, siteLookups, pushSyncs)
	})
}

func IncTransition(action, outcome string) {
	taskTransitions.WithLabelValues(action, outcome).Inc()
}

func IncUpload(slot, outcome string) {
	uploads.WithLabelValues(slot, outcome).Inc()
}

func IncSiteLookup(axis string) {
	siteLookups.WithLabelValues(axis).Inc()
}

func IncPushSync(outcome string) {
	pushSyncs.WithLabelValues(outcome).Inc()
}
