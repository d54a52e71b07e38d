package enrollment

import "time"

type (
	// Notifier is told about every student approved by a committed decision, exactly once per student.
	// It must not block; failures are its own business and never undo the decision.
	Notifier interface {
		OnStudentApproved(studentID int64)
	}

	// NotifierFunc adapts a function to Notifier.
	NotifierFunc func(studentID int64)

	// Metrics records enrollment events.
	Metrics interface {
		// DecisionMade is called for every decision attempt; kind is KindUnknown on success.
		DecisionMade(outcome State, kind Kind, duration time.Duration)
		StudentPlaced(gradeID int64, groupCreated bool)
		TeacherAssigned(auto bool)
		TeacherUnassigned()
	}

	nopNotifier struct{}
	nopMetrics  struct{}
)

func (f NotifierFunc) OnStudentApproved(studentID int64) { f(studentID) }

func (nopNotifier) OnStudentApproved(int64) {}

func (nopMetrics) DecisionMade(State, Kind, time.Duration) {}
func (nopMetrics) StudentPlaced(int64, bool)               {}
func (nopMetrics) TeacherAssigned(bool)                    {}
func (nopMetrics) TeacherUnassigned()                      {}

var (
	_ Notifier = NotifierFunc(nil)
	_ Notifier = nopNotifier{}
	_ Metrics  = nopMetrics{}
)
