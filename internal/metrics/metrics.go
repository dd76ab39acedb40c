// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeRegistered       = "registered"
	OutcomeClosed           = "closed"
	OutcomeInvalidName      = "invalid_name"
	OutcomeMissingMatricula = "missing_matricula"
	OutcomeDuplicate        = "duplicate"
	OutcomeStorageError     = "storage_error"
)

var (
	// SubmissionsTotal counts check-in submissions by outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_submissions_total",
		Help: "Check-in submissions by outcome.",
	}, []string{"outcome"})

	// ConfigToggles counts instructor toggles of the accepting flag.
	ConfigToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_config_toggles_total",
		Help: "Accepting-flag updates by resulting state.",
	}, []string{"accepting"})

	// RecordDeletes counts instructor record deletions.
	RecordDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_record_deletes_total",
		Help: "Records deleted from the instructor panel.",
	})
)
