package enrollment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/tests"
)

var ctx = context.Background()

// snapshot returns every student and group, to check that a failed operation wrote nothing.
func snapshot(t *testing.T, repo enrollment.Repository) ([]enrollment.Student, []enrollment.Group) {
	t.Helper()
	students, err := repo.QueryStudents(ctx, enrollment.StudentFilter{})
	require.NoError(t, err)
	groups, err := repo.QueryGroups(ctx, enrollment.GroupFilter{})
	require.NoError(t, err)
	return students, groups
}

// pendingFor stores a pending pre-registration whose students belong to the given guardians, bypassing Submit.
func pendingFor(t *testing.T, repo enrollment.Repository, guardianID, gradeID int64, studentGuardianIDs ...int64) enrollment.PreRegistration {
	t.Helper()
	now := time.Now().UTC()
	p, err := repo.SavePreRegistration(ctx, enrollment.PreRegistration{
		GuardianID:   guardianID,
		State:        enrollment.StatePending,
		RegisteredAt: now,
	})
	require.NoError(t, err)
	for i, gid := range studentGuardianIDs {
		ns := testutil.NewStudent(gradeID, i)
		_, err = repo.SaveStudent(ctx, enrollment.Student{
			FirstName:         ns.FirstName,
			LastName:          ns.LastName,
			State:             enrollment.StatePending,
			GuardianID:        gid,
			GradeID:           gradeID,
			PreRegistrationID: p.ID,
		})
		require.NoError(t, err)
	}
	p, err = repo.GetPreRegistration(ctx, p.ID)
	require.NoError(t, err)
	return p
}

func assertInvariants(t *testing.T, env *testutil.EnrollmentEnv) {
	t.Helper()
	opts := env.Svc.Options()

	students, groups := snapshot(t, env.Repo)
	owned := make(map[int64]int)
	for _, s := range students {
		if s.State == enrollment.StateApproved {
			owned[s.GuardianID]++
		}
		if s.IsPlaced() {
			assert.Equal(t, enrollment.StateApproved, s.State, "placed student %d", s.ID)
		}
	}
	for gid, n := range owned {
		assert.LessOrEqual(t, n, opts.MaxStudentsPerGuardian, "guardian %d", gid)
	}

	for _, g := range groups {
		assert.LessOrEqual(t, g.Size(), g.MaxCapacity, "group %q", g.Name)
		assert.Equal(t, g.Size() >= g.MinCapacity, g.Summary().IsReady, "group %q", g.Name)
		if g.HasTeacher() {
			teacher, err := env.Repo.GetTeacher(ctx, g.TeacherID)
			require.NoError(t, err)
			assert.Equal(t, g.ID, teacher.GroupID, "teacher %d of group %q", teacher.ID, g.Name)
		}
	}
	teachers, err := env.Repo.QueryTeachers(ctx, enrollment.TeacherFilter{})
	require.NoError(t, err)
	for _, teacher := range teachers {
		if teacher.IsAssigned() {
			g, err := env.Repo.GetGroup(ctx, teacher.GroupID)
			require.NoError(t, err)
			assert.Equal(t, teacher.ID, g.TeacherID, "group of teacher %d", teacher.ID)
		}
	}
}

func TestDecide_ScenarioA_groupBecomesReady(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	env.Approve(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 4)

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "5th-1", groups[0].Name)
	assert.Equal(t, 4, groups[0].Size)
	assert.False(t, groups[0].IsReady)

	p := env.Approve(t, env.Guardian(t, "Beto Ruiz").ID, grade.ID, 1)
	s, err := env.Repo.GetStudent(ctx, p.StudentIDs[0])
	require.NoError(t, err)

	groups, err = env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, groups[0].ID, s.GroupID)
	assert.Equal(t, 5, groups[0].Size)
	assert.True(t, groups[0].IsReady)
	assertInvariants(t, env)
}

func TestDecide_ScenarioB_fullGroupCreatesNext(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	env.Approve(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 5)
	env.Approve(t, env.Guardian(t, "Beto Ruiz").ID, grade.ID, 5)

	p := env.Approve(t, env.Guardian(t, "Carla Díaz").ID, grade.ID, 1)

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, 10, groups[0].Size)
	assert.Equal(t, "5th-2", groups[1].Name)
	assert.Equal(t, p.StudentIDs, groups[1].StudentIDs)
	assert.True(t, groups[1].IsActive)
	assert.Equal(t, enrollment.DefaultGroupMinCapacity, groups[1].MinCapacity)
	assert.Equal(t, enrollment.DefaultGroupMaxCapacity, groups[1].MaxCapacity)
	assert.False(t, groups[1].HasTeacher())
	assert.Equal(t, 2, env.Metrics.GroupsCreated)
	assertInvariants(t, env)
}

func TestDecide_ScenarioC_guardianAtCapacity(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")
	env.Approve(t, guardian.ID, grade.ID, 5)

	ok, err := env.Svc.CanAddStudent(ctx, guardian.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("submit", func(t *testing.T) {
		_, err := env.Svc.Submit(ctx, enrollment.NewPreRegistration{
			GuardianID: guardian.ID,
			Students:   []enrollment.NewStudent{testutil.NewStudent(grade.ID, 6)},
		})
		assert.True(t, errors.Is(err, enrollment.ErrGuardianCapacityExceeded), "got %v", err)
	})

	t.Run("decide", func(t *testing.T) {
		p := pendingFor(t, env.Repo, guardian.ID, grade.ID, guardian.ID)
		studentsBefore, groupsBefore := snapshot(t, env.Repo)

		_, err := env.Svc.Decide(ctx, p.ID, enrollment.StateApproved)
		assert.Equal(t, enrollment.GuardianCapacityExceeded, enrollment.KindOf(err))

		studentsAfter, groupsAfter := snapshot(t, env.Repo)
		assert.Empty(t, cmp.Diff(studentsBefore, studentsAfter))
		assert.Empty(t, cmp.Diff(groupsBefore, groupsAfter))

		p, err = env.Svc.GetPreRegistration(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, enrollment.StatePending, p.State)
	})
	assertInvariants(t, env)
}

func TestDecide_ScenarioE_wholeBatchRejected(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	first := env.Guardian(t, "Ana Mora")
	full := env.Guardian(t, "Beto Ruiz")
	env.Approve(t, full.ID, grade.ID, 5)

	p := pendingFor(t, env.Repo, first.ID, grade.ID, first.ID, full.ID)
	studentsBefore, groupsBefore := snapshot(t, env.Repo)
	approvedBefore := len(env.Approved.IDs())

	_, err := env.Svc.Decide(ctx, p.ID, enrollment.StateApproved)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enrollment.ErrGuardianCapacityExceeded), "got %v", err)

	studentsAfter, groupsAfter := snapshot(t, env.Repo)
	assert.Empty(t, cmp.Diff(studentsBefore, studentsAfter))
	assert.Empty(t, cmp.Diff(groupsBefore, groupsAfter))
	assert.Len(t, env.Approved.IDs(), approvedBefore)
	assert.Equal(t, 1, env.Metrics.Decisions["approved/GuardianCapacityExceeded"])
}

func TestDecide_cumulativeGuardianCapacity(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")

	// both fit on their own, not together
	p1 := env.Submit(t, guardian.ID, grade.ID, 3)
	p2 := env.Submit(t, guardian.ID, grade.ID, 3)

	_, err := env.Svc.Decide(ctx, p1.ID, enrollment.StateApproved)
	require.NoError(t, err)
	_, err = env.Svc.Decide(ctx, p2.ID, enrollment.StateApproved)
	assert.Equal(t, enrollment.GuardianCapacityExceeded, enrollment.KindOf(err))

	students, err := env.Repo.QueryStudents(ctx, enrollment.StudentFilter{PreRegistrationID: p2.ID})
	require.NoError(t, err)
	for _, s := range students {
		assert.Equal(t, enrollment.StatePending, s.State)
		assert.False(t, s.IsPlaced())
	}

	g, err := env.Repo.GetGuardian(ctx, guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, p1.StudentIDs, g.StudentIDs)
	assertInvariants(t, env)
}

func TestDecide_allocationFailureRollsBack(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{MaxGroupsPerGrade: 1})
	grade := env.Grade(t, "5th")
	env.Approve(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 5)
	env.Approve(t, env.Guardian(t, "Beto Ruiz").ID, grade.ID, 4)

	// the first student fills 5th-1, the second one needs a group the grade may not have
	p := env.Submit(t, env.Guardian(t, "Carla Díaz").ID, grade.ID, 2)
	studentsBefore, groupsBefore := snapshot(t, env.Repo)

	_, err := env.Svc.Decide(ctx, p.ID, enrollment.StateApproved)
	require.Error(t, err)
	assert.Equal(t, enrollment.AllocationFailed, enrollment.KindOf(err))
	assert.True(t, errors.Is(err, enrollment.ErrCapacityExhausted), "got %v", err)

	studentsAfter, groupsAfter := snapshot(t, env.Repo)
	assert.Empty(t, cmp.Diff(studentsBefore, studentsAfter))
	assert.Empty(t, cmp.Diff(groupsBefore, groupsAfter))

	p, err = env.Svc.GetPreRegistration(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatePending, p.State)
	assert.True(t, p.DecidedAt.IsZero())
}

func TestDecide_twiceIsAlreadyDecided(t *testing.T) {
	tests := []struct {
		name    string
		outcome enrollment.State
	}{
		{name: "approved", outcome: enrollment.StateApproved},
		{name: "rejected", outcome: enrollment.StateRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
			grade := env.Grade(t, "5th")
			p := env.Submit(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 2)

			decided, err := env.Svc.Decide(ctx, p.ID, tt.outcome)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, decided.State)
			assert.False(t, decided.DecidedAt.IsZero())

			studentsBefore, groupsBefore := snapshot(t, env.Repo)
			approvedBefore := env.Approved.IDs()

			for _, outcome := range []enrollment.State{enrollment.StateApproved, enrollment.StateRejected} {
				_, err = env.Svc.Decide(ctx, p.ID, outcome)
				assert.True(t, errors.Is(err, enrollment.ErrAlreadyDecided), "got %v", err)
			}

			studentsAfter, groupsAfter := snapshot(t, env.Repo)
			assert.Empty(t, cmp.Diff(studentsBefore, studentsAfter))
			assert.Empty(t, cmp.Diff(groupsBefore, groupsAfter))
			assert.Equal(t, approvedBefore, env.Approved.IDs())
		})
	}
}

func TestDecide_errors(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	p := env.Submit(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		id       int64
		outcome  enrollment.State
		wantKind enrollment.Kind
		wantErr  error
	}{
		{name: "unknown pre-registration", ctx: ctx, id: 999, outcome: enrollment.StateApproved, wantKind: enrollment.NotFound},
		{name: "pending outcome", ctx: ctx, id: p.ID, outcome: enrollment.StatePending, wantKind: enrollment.InvalidStateTransition},
		{name: "unknown outcome", ctx: ctx, id: p.ID, outcome: "lol", wantKind: enrollment.InvalidStateTransition},
		{name: "cancelled context", ctx: cancelled, id: p.ID, outcome: enrollment.StateApproved, wantErr: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Svc.Decide(tt.ctx, tt.id, tt.outcome)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				assert.Equal(t, tt.wantKind, enrollment.KindOf(err), "got %v", err)
			}
		})
	}

	p, err := env.Svc.GetPreRegistration(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatePending, p.State)
}

func TestDecide_reject(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")
	p := env.Submit(t, guardian.ID, grade.ID, 3)

	p, err := env.Svc.Decide(ctx, p.ID, enrollment.StateRejected)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StateRejected, p.State)

	students, err := env.Repo.QueryStudents(ctx, enrollment.StudentFilter{PreRegistrationID: p.ID})
	require.NoError(t, err)
	require.Len(t, students, 3)
	for _, s := range students {
		assert.Equal(t, enrollment.StateRejected, s.State)
		assert.False(t, s.IsPlaced())
	}

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Empty(t, env.Approved.IDs())

	g, err := env.Repo.GetGuardian(ctx, guardian.ID)
	require.NoError(t, err)
	assert.Empty(t, g.StudentIDs)
}

func TestDecide_notifiesOncePerApprovedStudent(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	p1 := env.Approve(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 3)
	p2 := env.Approve(t, env.Guardian(t, "Beto Ruiz").ID, grade.ID, 2)

	want := append(append([]int64(nil), p1.StudentIDs...), p2.StudentIDs...)
	assert.Equal(t, want, env.Approved.IDs())
	assert.Equal(t, 2, env.Metrics.Decisions["approved/Unknown"])
	assert.Equal(t, 5, env.Metrics.Placed)
}

func TestDecide_panickingNotifierDoesNotUndo(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	validate, _ := testutil.NewValidator()
	notifier := enrollment.NotifierFunc(func(int64) { panic("boom") })
	svc := enrollment.NewService(env.Repo, notifier, nil, env.Logger, validate, enrollment.Options{})

	grade := env.Grade(t, "5th")
	p := env.Submit(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 1)

	p, err := svc.Decide(ctx, p.ID, enrollment.StateApproved)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StateApproved, p.State)
	assert.NotEmpty(t, env.Logger.Messages("error"))

	s, err := env.Repo.GetStudent(ctx, p.StudentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, enrollment.StateApproved, s.State)
	assert.True(t, s.IsPlaced())
}

func TestDecide_deterministicAllocation(t *testing.T) {
	run := func(t *testing.T) []string {
		env := testutil.NewEnrollmentEnv(t, enrollment.Options{GroupMinCapacity: 2, GroupMaxCapacity: 3})
		grades := []enrollment.Grade{env.Grade(t, "1st"), env.Grade(t, "2nd")}
		for i, name := range []string{"Ana Mora", "Beto Ruiz", "Carla Díaz", "Dario Paz"} {
			env.Approve(t, env.Guardian(t, name).ID, grades[i%2].ID, 2+i%2)
		}

		var out []string
		students, err := env.Repo.QueryStudents(ctx, enrollment.StudentFilter{})
		require.NoError(t, err)
		for _, s := range students {
			g, err := env.Repo.GetGroup(ctx, s.GroupID)
			require.NoError(t, err)
			out = append(out, g.Name)
		}
		return out
	}

	first := run(t)
	assert.Equal(t, []string{
		"1st-1", "1st-1", // Ana
		"2nd-1", "2nd-1", "2nd-1", // Beto
		"1st-1", "1st-2", // Carla
		"2nd-2", "2nd-2", "2nd-2", // Dario
	}, first)
	for i := 0; i < 3; i++ {
		assert.Empty(t, cmp.Diff(first, run(t)))
	}
}

func TestDecide_concurrentDecisions(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")

	const guardians = 8
	preRegs := make([]enrollment.PreRegistration, 0, guardians)
	for i := 0; i < guardians; i++ {
		g := env.Guardian(t, "Guardian "+string(rune('A'+i)))
		preRegs = append(preRegs, env.Submit(t, g.ID, grade.ID, 5))
	}

	var wg sync.WaitGroup
	errs := make(chan error, guardians)
	for _, p := range preRegs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := env.Svc.Decide(ctx, id, enrollment.StateApproved)
			errs <- err
		}(p.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	for _, g := range groups {
		assert.Equal(t, 10, g.Size, "group %q", g.Name)
	}
	assert.Len(t, env.Approved.IDs(), guardians*5)
	assertInvariants(t, env)
}

func TestSubmit(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")

	type vErrs = validator.ValidationErrors
	tests := []struct {
		name     string
		np       enrollment.NewPreRegistration
		wantType interface{}
		wantKind enrollment.Kind
	}{
		{
			name:     "no students",
			np:       enrollment.NewPreRegistration{GuardianID: guardian.ID},
			wantType: vErrs{},
		},
		{
			name: "invalid name",
			np: enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
				{FirstName: "R2-D2", LastName: "Droid", GradeID: grade.ID},
			}},
			wantType: vErrs{},
		},
		{
			name: "born in the future",
			np: enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
				{FirstName: "Ana", LastName: "Mora", BirthDate: time.Now().AddDate(1, 0, 0), GradeID: grade.ID},
			}},
			wantType: vErrs{},
		},
		{
			name: "same student twice",
			np: enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
				testutil.NewStudent(grade.ID, 0), testutil.NewStudent(grade.ID, 0),
			}},
			wantType: vErrs{},
		},
		{
			name: "unknown guardian",
			np: enrollment.NewPreRegistration{GuardianID: 999, Students: []enrollment.NewStudent{
				testutil.NewStudent(grade.ID, 0),
			}},
			wantKind: enrollment.NotFound,
		},
		{
			name: "unknown grade",
			np: enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
				testutil.NewStudent(999, 0),
			}},
			wantKind: enrollment.NotFound,
		},
		{
			name: "too many students",
			np: enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
				testutil.NewStudent(grade.ID, 0), testutil.NewStudent(grade.ID, 1), testutil.NewStudent(grade.ID, 2),
				testutil.NewStudent(grade.ID, 3), testutil.NewStudent(grade.ID, 4), testutil.NewStudent(grade.ID, 5),
			}},
			wantKind: enrollment.GuardianCapacityExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Svc.Submit(ctx, tt.np)
			require.Error(t, err)
			if tt.wantType != nil {
				assert.IsType(t, tt.wantType, err)
			} else {
				assert.Equal(t, tt.wantKind, enrollment.KindOf(err), "got %v", err)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		p, err := env.Svc.Submit(ctx, enrollment.NewPreRegistration{GuardianID: guardian.ID, Students: []enrollment.NewStudent{
			{FirstName: "  José ", LastName: "Núñez", BirthDate: time.Date(2016, 3, 4, 0, 0, 0, 0, time.UTC), GradeID: grade.ID},
			testutil.NewStudent(grade.ID, 1),
		}})
		require.NoError(t, err)
		assert.Equal(t, enrollment.StatePending, p.State)
		assert.Equal(t, guardian.ID, p.GuardianID)
		require.Len(t, p.StudentIDs, 2)

		s, err := env.Repo.GetStudent(ctx, p.StudentIDs[0])
		require.NoError(t, err)
		assert.Equal(t, "José Núñez", s.DisplayName())
		assert.Equal(t, enrollment.StatePending, s.State)
		assert.Equal(t, grade.ID, s.GradeID)
		assert.False(t, s.IsPlaced())

		// pending students are not owned
		g, err := env.Repo.GetGuardian(ctx, guardian.ID)
		require.NoError(t, err)
		assert.Empty(t, g.StudentIDs)
	})
}

func TestCreateGrade(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	env.Grade(t, "5th")

	tests := []struct {
		name     string
		grade    string
		wantType interface{}
	}{
		{name: "blank", grade: "   ", wantType: validator.ValidationErrors{}},
		{name: "duplicate", grade: "5th", wantType: &core.ValidationError{}},
		{name: "duplicate, other case", grade: " 5TH ", wantType: &core.ValidationError{}},
		{name: "valid", grade: "6th"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := env.Svc.CreateGrade(ctx, enrollment.NewGrade{Name: tt.grade})
			if tt.wantType != nil {
				assert.IsType(t, tt.wantType, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.grade, g.Name)
		})
	}

	grades, err := env.Svc.ListGrades(ctx)
	require.NoError(t, err)
	assert.Len(t, grades, 2)
}

func TestListPendingPreRegistrations(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")

	day := time.Date(2021, 9, 1, 8, 0, 0, 0, time.UTC)
	at := func(d time.Time) func() time.Time { return func() time.Time { return d } }
	defer func() { enrollment.NowFunc = time.Now }()

	enrollment.NowFunc = at(day.Add(time.Hour))
	late := env.Submit(t, guardian.ID, grade.ID, 1)
	enrollment.NowFunc = at(day)
	early := env.Submit(t, guardian.ID, grade.ID, 1)
	sameTime := env.Submit(t, guardian.ID, grade.ID, 1)
	decided := env.Submit(t, guardian.ID, grade.ID, 1)
	enrollment.NowFunc = time.Now

	_, err := env.Svc.Decide(ctx, decided.ID, enrollment.StateRejected)
	require.NoError(t, err)

	pending, err := env.Svc.ListPendingPreRegistrations(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{early.ID, sameTime.ID, late.ID}, ids)
}

func TestSetGroupActive(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	env.Approve(t, env.Guardian(t, "Ana Mora").ID, grade.ID, 2)

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g, err := env.Svc.SetGroupActive(ctx, groups[0].ID, false)
	require.NoError(t, err)
	assert.False(t, g.IsActive)

	// the inactive group still has room but is skipped
	p := env.Approve(t, env.Guardian(t, "Beto Ruiz").ID, grade.ID, 1)
	s, err := env.Repo.GetStudent(ctx, p.StudentIDs[0])
	require.NoError(t, err)
	next, err := env.Repo.GetGroup(ctx, s.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "5th-2", next.Name)

	g, err = env.Svc.SetGroupActive(ctx, groups[0].ID, true)
	require.NoError(t, err)
	assert.True(t, g.IsActive)
	assert.Equal(t, 2, g.Size())

	_, err = env.Svc.SetGroupActive(ctx, 999, true)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))
}

func TestPlaceStudent(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	guardian := env.Guardian(t, "Ana Mora")
	placed := env.Approve(t, guardian.ID, grade.ID, 1)
	pending := env.Submit(t, guardian.ID, grade.ID, 1)

	// approved without a group, e.g. after its group was removed
	p := pendingFor(t, env.Repo, guardian.ID, grade.ID, guardian.ID)
	unplaced, err := env.Repo.GetStudent(ctx, p.StudentIDs[0])
	require.NoError(t, err)
	unplaced.State = enrollment.StateApproved
	unplaced, err = env.Repo.SaveStudent(ctx, unplaced)
	require.NoError(t, err)

	tests := []struct {
		name      string
		studentID int64
		wantErr   error
	}{
		{name: "unknown student", studentID: 999, wantErr: enrollment.ErrNotFound},
		{name: "pending student", studentID: pending.StudentIDs[0], wantErr: enrollment.ErrInvalidStateTransition},
		{name: "already placed", studentID: placed.StudentIDs[0], wantErr: enrollment.ErrAlreadyAssigned},
		{name: "approved, not placed", studentID: unplaced.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := env.Svc.PlaceStudent(ctx, tt.studentID)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, enrollment.KindOf(tt.wantErr), enrollment.KindOf(err), "outermost kind of %v", err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, g.StudentIDs, tt.studentID)
			assert.Equal(t, "5th-1", g.Name)
		})
	}
	assertInvariants(t, env)
}

func TestAddStudent(t *testing.T) {
	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	full := env.Guardian(t, "Ana Mora")
	other := env.Guardian(t, "Beto Ruiz")
	env.Approve(t, full.ID, grade.ID, 5)
	p := env.Approve(t, other.ID, grade.ID, 1)
	sid := p.StudentIDs[0]

	_, err := env.Svc.AddStudent(ctx, full.ID, sid)
	assert.True(t, errors.Is(err, enrollment.ErrGuardianCapacityExceeded), "got %v", err)

	// linking a student to its own guardian is a no-op
	s, err := env.Svc.AddStudent(ctx, other.ID, sid)
	require.NoError(t, err)
	assert.Equal(t, other.ID, s.GuardianID)

	third := env.Guardian(t, "Carla Díaz")
	ok, err := env.Svc.CanAddStudent(ctx, third.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	s, err = env.Svc.AddStudent(ctx, third.ID, sid)
	require.NoError(t, err)
	assert.Equal(t, third.ID, s.GuardianID)

	g, err := env.Repo.GetGuardian(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{sid}, g.StudentIDs)

	_, err = env.Svc.CanAddStudent(ctx, 999)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))
	assertInvariants(t, env)
}

func TestGetRosterForGroup(t *testing.T) {
	names := [][2]string{
		{"Oscar", "Zea"},
		{"Ñato", "Vela"},
		{"Bruno", "Díaz"},
		{"Nuria", "Sol"},
		{"Álvaro", "Gómez"},
	}

	env := testutil.NewEnrollmentEnv(t, enrollment.Options{})
	grade := env.Grade(t, "5th")
	np := enrollment.NewPreRegistration{GuardianID: env.Guardian(t, "Ana Mora").ID}
	for i, n := range names {
		ns := testutil.NewStudent(grade.ID, i)
		ns.FirstName, ns.LastName = n[0], n[1]
		np.Students = append(np.Students, ns)
	}
	p, err := env.Svc.Submit(ctx, np)
	require.NoError(t, err)
	_, err = env.Svc.Decide(ctx, p.ID, enrollment.StateApproved)
	require.NoError(t, err)

	groups, err := env.Svc.ListGroupsForGrade(ctx, grade.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	roster, err := env.Svc.GetRosterForGroup(ctx, groups[0].ID)
	require.NoError(t, err)
	got := make([]string, 0, len(roster))
	for _, s := range roster {
		got = append(got, s.DisplayName())
	}
	assert.Equal(t, []string{"Álvaro Gómez", "Bruno Díaz", "Nuria Sol", "Ñato Vela", "Oscar Zea"}, got)

	_, err = env.Svc.GetRosterForGroup(ctx, 999)
	assert.Equal(t, enrollment.NotFound, enrollment.KindOf(err))
}

func TestSortRoster(t *testing.T) {
	students := []enrollment.Student{
		{ID: 3, FirstName: "Ana", LastName: "Mora"},
		{ID: 1, FirstName: "ana", LastName: "mora"},
		{ID: 2, FirstName: "Ana", LastName: "Mora"},
		{ID: 4, FirstName: "Ángel", LastName: "Paz"},
	}

	enrollment.SortRoster(students, "!!")
	ids := make([]int64, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	// lower case sorts first; equal names by id
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
}
