// Package metrics exports the enrollment metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/shule/core/enrollment"
)

const namespace = "shule"

// PrometheusMetrics implements enrollment.Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	decisions         *prometheus.CounterVec
	decisionDuration  *prometheus.HistogramVec
	placements        *prometheus.CounterVec
	groupsCreated     *prometheus.CounterVec
	teacherAssigned   *prometheus.CounterVec
	teacherUnassigned prometheus.Counter
}

var _ enrollment.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "decisions_total",
			Help:      "Pre-registration decisions, by requested outcome and error kind (none on success).",
		}, []string{"outcome", "kind"}),
		decisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "decision_duration_seconds",
			Help:      "Time taken by pre-registration decisions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "students_placed_total",
			Help:      "Students placed in a group, by grade.",
		}, []string{"grade_id"}),
		groupsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "groups_created_total",
			Help:      "Groups created by the allocator, by grade.",
		}, []string{"grade_id"}),
		teacherAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "teacher_assignments_total",
			Help:      "Teachers bound to a group, by mode (auto or manual).",
		}, []string{"mode"}),
		teacherUnassigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "teacher_unassignments_total",
			Help:      "Teachers released from their group.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.decisions, m.decisionDuration, m.placements, m.groupsCreated, m.teacherAssigned, m.teacherUnassigned,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func kindLabel(kind enrollment.Kind) string {
	if kind == enrollment.KindUnknown {
		return "none"
	}
	return kind.String()
}

func (m *PrometheusMetrics) DecisionMade(outcome enrollment.State, kind enrollment.Kind, duration time.Duration) {
	m.decisions.WithLabelValues(string(outcome), kindLabel(kind)).Inc()
	m.decisionDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) StudentPlaced(gradeID int64, groupCreated bool) {
	grade := strconv.FormatInt(gradeID, 10)
	m.placements.WithLabelValues(grade).Inc()
	if groupCreated {
		m.groupsCreated.WithLabelValues(grade).Inc()
	}
}

func (m *PrometheusMetrics) TeacherAssigned(auto bool) {
	mode := "manual"
	if auto {
		mode = "auto"
	}
	m.teacherAssigned.WithLabelValues(mode).Inc()
}

func (m *PrometheusMetrics) TeacherUnassigned() {
	m.teacherUnassigned.Inc()
}
