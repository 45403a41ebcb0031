package incidents

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "respondr"

// Operation labels.
const (
	opCreate       = "create"
	opChangeStatus = "change_status"
	opAddComment   = "add_comment"
	opPostUpdate   = "post_update"
	opEdit         = "edit"
	opDelete       = "delete"
)

var incidentOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "incidents",
		Name:      "operations_total",
		Help:      "Incident mutations by operation and result",
	},
	[]string{"operation", "result"},
)

func recordOperation(op string, err error) {
	incidentOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIncidentNotFound):
		return "not_found"
	case errors.Is(err, ErrTransitionNotAllowed):
		return "conflict"
	default:
		return "error"
	}
}
