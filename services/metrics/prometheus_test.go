package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/enrollment"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	m.DecisionMade(enrollment.StateApproved, enrollment.KindUnknown, 20*time.Millisecond)
	m.DecisionMade(enrollment.StateApproved, enrollment.AllocationFailed, time.Millisecond)
	m.DecisionMade(enrollment.StateRejected, enrollment.KindUnknown, time.Millisecond)
	m.StudentPlaced(3, true)
	m.StudentPlaced(3, false)
	m.TeacherAssigned(true)
	m.TeacherAssigned(false)
	m.TeacherAssigned(false)
	m.TeacherUnassigned()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("approved", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("approved", "AllocationFailed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.placements.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.groupsCreated.WithLabelValues("3")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.teacherAssigned.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.teacherUnassigned))

	expected := `
# HELP shule_enrollment_teacher_assignments_total Teachers bound to a group, by mode (auto or manual).
# TYPE shule_enrollment_teacher_assignments_total counter
shule_enrollment_teacher_assignments_total{mode="auto"} 1
shule_enrollment_teacher_assignments_total{mode="manual"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "shule_enrollment_teacher_assignments_total"))

	_, err = NewPrometheusMetrics(reg)
	assert.Error(t, err, "collectors are already registered")
}
