package inmemdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/enrollment"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
)

var ctx = context.Background()

type fixture struct {
	repo     enrollment.Repository
	guardian enrollment.Guardian
	grade    enrollment.Grade
	preReg   enrollment.PreRegistration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: inmemdb.NewEnrollmentRepository(inmemdb.Open())}
	var err error
	f.guardian, err = f.repo.SaveGuardian(ctx, enrollment.Guardian{Name: "Ana Mora"})
	require.NoError(t, err)
	f.grade, err = f.repo.SaveGrade(ctx, enrollment.Grade{Name: "5th"})
	require.NoError(t, err)
	f.preReg, err = f.repo.SavePreRegistration(ctx, enrollment.PreRegistration{
		GuardianID:   f.guardian.ID,
		State:        enrollment.StatePending,
		RegisteredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) student(t *testing.T, name string, state enrollment.State, groupID int64) enrollment.Student {
	t.Helper()
	s, err := f.repo.SaveStudent(ctx, enrollment.Student{
		FirstName:         name,
		LastName:          "Mora",
		State:             state,
		GuardianID:        f.guardian.ID,
		GradeID:           f.grade.ID,
		GroupID:           groupID,
		PreRegistrationID: f.preReg.ID,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) group(t *testing.T, name string) enrollment.Group {
	t.Helper()
	g, err := f.repo.SaveGroup(ctx, enrollment.Group{Name: name, GradeID: f.grade.ID, IsActive: true, MinCapacity: 5, MaxCapacity: 10})
	require.NoError(t, err)
	return g
}

func TestEnrollmentRepository_versions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 1, f.guardian.Version)

	stale := f.guardian
	f.guardian.Phone = "555-1234"
	updated, err := f.repo.SaveGuardian(ctx, f.guardian)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = f.repo.SaveGuardian(ctx, stale)
	assert.True(t, errors.Is(err, enrollment.ErrConcurrentModification), "got %v", err)

	stored, err := f.repo.GetGuardian(ctx, f.guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-1234", stored.Phone)

	_, err = f.repo.SaveGuardian(ctx, enrollment.Guardian{ID: 999, Name: "Ghost", Version: 1})
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))
}

func TestEnrollmentRepository_derivedSets(t *testing.T) {
	f := newFixture(t)
	g1 := f.group(t, "5th-1")
	g2 := f.group(t, "5th-2")
	pending := f.student(t, "Ana", enrollment.StatePending, 0)
	approved := f.student(t, "Beto", enrollment.StateApproved, g1.ID)
	rejected := f.student(t, "Carla", enrollment.StateRejected, 0)

	guardian, err := f.repo.GetGuardian(ctx, f.guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{approved.ID}, guardian.StudentIDs, "only approved students are owned")

	preReg, err := f.repo.GetPreRegistration(ctx, f.preReg.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{pending.ID, approved.ID, rejected.ID}, preReg.StudentIDs)

	grade, err := f.repo.GetGrade(ctx, f.grade.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{g1.ID, g2.ID}, grade.GroupIDs)

	g1, err = f.repo.GetGroup(ctx, g1.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{approved.ID}, g1.StudentIDs)

	// derived sets are not stored
	guardian.StudentIDs = []int64{42}
	guardian, err = f.repo.SaveGuardian(ctx, guardian)
	require.NoError(t, err)
	assert.Equal(t, []int64{approved.ID}, guardian.StudentIDs)

	groups, err := f.repo.QueryGroups(ctx, enrollment.GroupFilter{GradeID: f.grade.ID})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Empty(t, groups[1].StudentIDs)
}

func TestEnrollmentRepository_integrity(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "5th-1")

	tests := []struct {
		name     string
		save     func() error
		wantKind enrollment.Kind
	}{
		{
			name: "pending student with a group",
			save: func() error {
				_, err := f.repo.SaveStudent(ctx, enrollment.Student{
					FirstName: "Ana", State: enrollment.StatePending, GuardianID: f.guardian.ID,
					GradeID: f.grade.ID, PreRegistrationID: f.preReg.ID, GroupID: g.ID,
				})
				return err
			},
			wantKind: enrollment.StorageError,
		},
		{
			name: "student of an unknown guardian",
			save: func() error {
				_, err := f.repo.SaveStudent(ctx, enrollment.Student{
					FirstName: "Ana", State: enrollment.StatePending, GuardianID: 999,
					GradeID: f.grade.ID, PreRegistrationID: f.preReg.ID,
				})
				return err
			},
			wantKind: enrollment.StorageError,
		},
		{
			name: "group of an unknown grade",
			save: func() error {
				_, err := f.repo.SaveGroup(ctx, enrollment.Group{Name: "X-1", GradeID: 999})
				return err
			},
			wantKind: enrollment.StorageError,
		},
		{
			name: "duplicate grade name",
			save: func() error {
				_, err := f.repo.SaveGrade(ctx, enrollment.Grade{Name: "5th"})
				return err
			},
			wantKind: enrollment.ConcurrentModification,
		},
		{
			name: "duplicate group name",
			save: func() error {
				_, err := f.repo.SaveGroup(ctx, enrollment.Group{Name: "5th-1", GradeID: f.grade.ID})
				return err
			},
			wantKind: enrollment.ConcurrentModification,
		},
		{
			name: "teacher of an unknown group",
			save: func() error {
				_, err := f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Teresa", GroupID: 999})
				return err
			},
			wantKind: enrollment.StorageError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.save()
			assert.Equal(t, tt.wantKind, enrollment.KindOf(err), "got %v", err)
		})
	}

	t.Run("one teacher per group", func(t *testing.T) {
		t1, err := f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Teresa", GroupID: g.ID})
		require.NoError(t, err)
		_, err = f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Tomas", GroupID: g.ID})
		assert.Equal(t, enrollment.ConcurrentModification, enrollment.KindOf(err))

		g, err := f.repo.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		g.TeacherID = t1.ID
		_, err = f.repo.SaveGroup(ctx, g)
		require.NoError(t, err)
		_, err = f.repo.SaveGroup(ctx, enrollment.Group{Name: "5th-2", GradeID: f.grade.ID, TeacherID: t1.ID})
		assert.Equal(t, enrollment.ConcurrentModification, enrollment.KindOf(err))
	})
}

func TestEnrollmentRepository_WithinTx(t *testing.T) {
	f := newFixture(t)

	t.Run("rollback", func(t *testing.T) {
		err := f.repo.WithinTx(ctx, func(tx enrollment.Repository) error {
			if _, err := tx.SaveGrade(ctx, enrollment.Grade{Name: "6th"}); err != nil {
				return err
			}
			// nested calls share the unit of work
			return tx.WithinTx(ctx, func(tx enrollment.Repository) error {
				grades, err := tx.QueryGrades(ctx)
				require.NoError(t, err)
				assert.Len(t, grades, 2, "writes are visible inside the unit of work")
				return errors.New("boom")
			})
		})
		assert.EqualError(t, err, "boom")

		grades, err := f.repo.QueryGrades(ctx)
		require.NoError(t, err)
		assert.Len(t, grades, 1)
	})

	t.Run("isolation", func(t *testing.T) {
		err := f.repo.WithinTx(ctx, func(tx enrollment.Repository) error {
			if _, err := tx.SaveGrade(ctx, enrollment.Grade{Name: "7th"}); err != nil {
				return err
			}
			outside, err := f.repo.QueryGrades(ctx)
			require.NoError(t, err)
			assert.Len(t, outside, 1, "uncommitted writes are not visible outside")
			return nil
		})
		require.NoError(t, err)

		grades, err := f.repo.QueryGrades(ctx)
		require.NoError(t, err)
		assert.Len(t, grades, 2)
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := f.repo.WithinTx(cancelled, func(enrollment.Repository) error {
			called = true
			return nil
		})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, called)
	})
}

func TestEnrollmentRepository_deletes(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "5th-1")
	s := f.student(t, "Ana", enrollment.StateApproved, g.ID)
	teacher, err := f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Teresa", GroupID: g.ID})
	require.NoError(t, err)
	g, err = f.repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	g.TeacherID = teacher.ID
	_, err = f.repo.SaveGroup(ctx, g)
	require.NoError(t, err)

	err = f.repo.DeleteGroup(ctx, g.ID)
	assert.Equal(t, enrollment.StorageError, enrollment.KindOf(err), "group still has students")
	err = f.repo.DeleteGrade(ctx, f.grade.ID)
	assert.Equal(t, enrollment.StorageError, enrollment.KindOf(err), "grade still has students")

	// deleting a teacher frees its group
	require.NoError(t, f.repo.DeleteTeacher(ctx, teacher.ID))
	g, err = f.repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, g.HasTeacher())

	// the guardian owns its students & pre-registrations
	require.NoError(t, f.repo.DeleteGuardian(ctx, f.guardian.ID))
	_, err = f.repo.GetStudent(ctx, s.ID)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))
	_, err = f.repo.GetPreRegistration(ctx, f.preReg.ID)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))

	// the grade owns its groups
	require.NoError(t, f.repo.DeleteGrade(ctx, f.grade.ID))
	_, err = f.repo.GetGroup(ctx, g.ID)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))

	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(f.repo.DeleteStudent(ctx, s.ID)))
}

func TestEnrollmentRepository_queries(t *testing.T) {
	f := newFixture(t)
	active := f.group(t, "5th-1")
	inactive := f.group(t, "5th-2")
	inactive.IsActive = false
	_, err := f.repo.SaveGroup(ctx, inactive)
	require.NoError(t, err)

	ana := f.student(t, "Ana", enrollment.StateApproved, active.ID)
	beto := f.student(t, "Beto", enrollment.StatePending, 0)

	tests := []struct {
		name   string
		filter enrollment.StudentFilter
		want   []int64
	}{
		{name: "all", want: []int64{ana.ID, beto.ID}},
		{name: "by group", filter: enrollment.StudentFilter{GroupID: active.ID}, want: []int64{ana.ID}},
		{name: "by state", filter: enrollment.StudentFilter{State: enrollment.StatePending}, want: []int64{beto.ID}},
		{name: "by guardian", filter: enrollment.StudentFilter{GuardianID: f.guardian.ID}, want: []int64{ana.ID, beto.ID}},
		{name: "no match", filter: enrollment.StudentFilter{PreRegistrationID: 999}, want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			students, err := f.repo.QueryStudents(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]int64, 0, len(students))
			for _, s := range students {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	groups, err := f.repo.QueryGroups(ctx, enrollment.GroupFilter{GradeID: f.grade.ID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, active.ID, groups[0].ID)

	teacher, err := f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Teresa", GroupID: active.ID})
	require.NoError(t, err)
	freeTeacher, err := f.repo.SaveTeacher(ctx, enrollment.Teacher{Name: "Tomas"})
	require.NoError(t, err)
	free, err := f.repo.QueryTeachers(ctx, enrollment.TeacherFilter{FreeOnly: true})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, freeTeacher.ID, free[0].ID)
	assert.NotEqual(t, teacher.ID, free[0].ID)
}
