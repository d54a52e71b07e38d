package enrollment

import "context"

type (
	// GroupFilter restricts QueryGroups; zero fields do not filter.
	GroupFilter struct {
		GradeID    int64
		ActiveOnly bool
	}

	// StudentFilter restricts QueryStudents; zero fields do not filter.
	StudentFilter struct {
		PreRegistrationID int64
		GuardianID        int64
		GroupID           int64
		State             State
	}

	// TeacherFilter restricts QueryTeachers.
	TeacherFilter struct {
		FreeOnly bool
	}

	// Repository persists the enrollment aggregates.
	//
	// Gets return a NotFound *Error for unknown ids; forUpdate locks the row until the end of the
	// unit of work when the engine supports it. Saves insert when the id is 0, otherwise they update
	// the row if its version did not change since it was loaded (ConcurrentModification if it did);
	// they return the saved copy with its id and new version. Derived id sets (Guardian.StudentIDs,
	// PreRegistration.StudentIDs, Grade.GroupIDs, Group.StudentIDs) are computed from the student and
	// group rows on load and ignored on save.
	// Queries return rows in id order unless stated otherwise.
	Repository interface {
		// WithinTx runs fn in a single unit of work: either every write done through tx is committed
		// or none is. Calling WithinTx on tx runs fn in the same unit of work.
		WithinTx(ctx context.Context, fn func(tx Repository) error) error

		GetGuardian(ctx context.Context, id int64, forUpdate ...bool) (Guardian, error)
		SaveGuardian(ctx context.Context, g Guardian) (Guardian, error)
		// DeleteGuardian also deletes the guardian's students and pre-registrations.
		DeleteGuardian(ctx context.Context, id int64) error

		GetStudent(ctx context.Context, id int64, forUpdate ...bool) (Student, error)
		SaveStudent(ctx context.Context, s Student) (Student, error)
		DeleteStudent(ctx context.Context, id int64) error
		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error)

		GetPreRegistration(ctx context.Context, id int64, forUpdate ...bool) (PreRegistration, error)
		SavePreRegistration(ctx context.Context, p PreRegistration) (PreRegistration, error)
		// DeletePreRegistration also deletes its students.
		DeletePreRegistration(ctx context.Context, id int64) error
		// QueryPreRegistrations returns the pre-registrations in the given state (any if empty),
		// ordered by registration date, then id.
		QueryPreRegistrations(ctx context.Context, state State) ([]PreRegistration, error)

		GetGrade(ctx context.Context, id int64, forUpdate ...bool) (Grade, error)
		SaveGrade(ctx context.Context, g Grade) (Grade, error)
		// DeleteGrade also deletes the grade's groups.
		DeleteGrade(ctx context.Context, id int64) error
		QueryGrades(ctx context.Context) ([]Grade, error)

		GetGroup(ctx context.Context, id int64, forUpdate ...bool) (Group, error)
		SaveGroup(ctx context.Context, g Group) (Group, error)
		DeleteGroup(ctx context.Context, id int64) error
		QueryGroups(ctx context.Context, filter GroupFilter) ([]Group, error)

		GetTeacher(ctx context.Context, id int64, forUpdate ...bool) (Teacher, error)
		SaveTeacher(ctx context.Context, t Teacher) (Teacher, error)
		DeleteTeacher(ctx context.Context, id int64) error
		QueryTeachers(ctx context.Context, filter TeacherFilter) ([]Teacher, error)
	}
)
