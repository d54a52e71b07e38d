package enrollment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/trezcool/shule/core"
)

const (
	DefaultMaxStudentsPerGuardian = 5
	DefaultGroupMinCapacity       = 5
	DefaultGroupMaxCapacity       = 10
	DefaultRosterLocale           = "es"

	gradesKey = "grades"
)

var (
	NowFunc = time.Now // mockable

	ErrGradeExists = errors.New("a grade with this name already exists")
)

type (
	Options struct {
		MaxStudentsPerGuardian int
		GroupMinCapacity       int
		GroupMaxCapacity       int
		MaxGroupsPerGrade      int // 0: unlimited
		AutoAssignTeachers     bool
		RosterLocale           string
	}

	// Service is the enrollment orchestrator and the entry point of every enrollment operation.
	// Each operation locks the keys of the records it touches, in a fixed order, and runs in one unit of work.
	Service struct {
		repo     Repository
		notifier Notifier
		metrics  Metrics
		logger   core.Logger
		validate *validator.Validate
		opts     Options

		locks    *keyedLocker
		guard    *GuardianGuard
		alloc    *Allocator
		teachers *TeacherManager
	}
)

// OptionsFromConfig returns the service options set in the configuration.
func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		MaxStudentsPerGuardian: conf.Enrollment.MaxStudentsPerGuardian,
		GroupMinCapacity:       conf.Enrollment.GroupMinCapacity,
		GroupMaxCapacity:       conf.Enrollment.GroupMaxCapacity,
		MaxGroupsPerGrade:      conf.Enrollment.MaxGroupsPerGrade,
		AutoAssignTeachers:     conf.Enrollment.AutoAssignTeachers,
		RosterLocale:           conf.Enrollment.RosterLocale,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxStudentsPerGuardian <= 0 {
		o.MaxStudentsPerGuardian = DefaultMaxStudentsPerGuardian
	}
	if o.GroupMaxCapacity <= 0 {
		o.GroupMaxCapacity = DefaultGroupMaxCapacity
	}
	if o.GroupMinCapacity <= 0 {
		o.GroupMinCapacity = DefaultGroupMinCapacity
	}
	if o.GroupMinCapacity > o.GroupMaxCapacity {
		o.GroupMinCapacity = o.GroupMaxCapacity
	}
	if o.MaxGroupsPerGrade < 0 {
		o.MaxGroupsPerGrade = 0
	}
	if o.RosterLocale == "" {
		o.RosterLocale = DefaultRosterLocale
	}
	return o
}

// NewService returns the enrollment service. notifier and metrics may be nil.
func NewService(
	repo Repository,
	notifier Notifier,
	metrics Metrics,
	logger core.Logger,
	validate *validator.Validate,
	opts Options,
) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	opts = opts.withDefaults()
	return &Service{
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		validate: validate,
		opts:     opts,
		locks:    newKeyedLocker(),
		guard:    NewGuardianGuard(opts.MaxStudentsPerGuardian),
		alloc:    NewAllocator(opts.GroupMinCapacity, opts.GroupMaxCapacity, opts.MaxGroupsPerGrade),
		teachers: NewTeacherManager(),
	}
}

func (svc *Service) Options() Options { return svc.opts }

// =========================================================================
// Registration & reference data

func (svc *Service) RegisterGuardian(ctx context.Context, ng NewGuardian) (Guardian, error) {
	ng.clean()
	if err := svc.validate.Struct(ng); err != nil {
		return Guardian{}, err
	}
	now := NowFunc().UTC()
	return svc.repo.SaveGuardian(ctx, Guardian{
		Name:       ng.Name,
		Email:      ng.Email,
		Phone:      ng.Phone,
		DocumentID: ng.DocumentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *Service) RegisterTeacher(ctx context.Context, nt NewTeacher) (Teacher, error) {
	nt.clean()
	if err := svc.validate.Struct(nt); err != nil {
		return Teacher{}, err
	}
	now := NowFunc().UTC()
	return svc.repo.SaveTeacher(ctx, Teacher{
		Name:      nt.Name,
		Email:     nt.Email,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// CreateGrade creates a grade; grade names are unique (case-insensitive).
func (svc *Service) CreateGrade(ctx context.Context, ng NewGrade) (Grade, error) {
	ng.clean()
	if err := svc.validate.Struct(ng); err != nil {
		return Grade{}, err
	}

	unlock := svc.locks.Lock(gradesKey)
	defer unlock()

	var grade Grade
	err := svc.repo.WithinTx(ctx, func(tx Repository) error {
		grades, err := tx.QueryGrades(ctx)
		if err != nil {
			return err
		}
		for _, g := range grades {
			if strings.EqualFold(g.Name, ng.Name) {
				return core.NewValidationError(ErrGradeExists, core.FieldError{Field: "name", Error: ErrGradeExists.Error()})
			}
		}
		now := NowFunc().UTC()
		grade, err = tx.SaveGrade(ctx, Grade{Name: ng.Name, CreatedAt: now, UpdatedAt: now})
		return err
	})
	if err != nil {
		return Grade{}, err
	}
	return grade, nil
}

// Submit creates a pending pre-registration and its students for a guardian.
// It fails early with GuardianCapacityExceeded when the guardian could never own all the requested students.
func (svc *Service) Submit(ctx context.Context, np NewPreRegistration) (PreRegistration, error) {
	np.clean()
	if err := svc.validate.Struct(np); err != nil {
		return PreRegistration{}, err
	}

	unlock := svc.locks.Lock(guardianKey(np.GuardianID))
	defer unlock()

	var preReg PreRegistration
	err := svc.repo.WithinTx(ctx, func(tx Repository) error {
		g, err := tx.GetGuardian(ctx, np.GuardianID, true /* forUpdate */)
		if err != nil {
			return err
		}
		if owned := len(g.StudentIDs); owned+len(np.Students) > svc.guard.Max() {
			return NewError(GuardianCapacityExceeded, "guardian %d owns %d students, cannot request %d more (max %d)",
				g.ID, owned, len(np.Students), svc.guard.Max())
		}
		for _, ns := range np.Students {
			if _, err = tx.GetGrade(ctx, ns.GradeID); err != nil {
				return err
			}
		}

		now := NowFunc().UTC()
		if preReg, err = tx.SavePreRegistration(ctx, PreRegistration{
			GuardianID:   g.ID,
			State:        StatePending,
			RegisteredAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		for _, ns := range np.Students {
			if _, err = tx.SaveStudent(ctx, Student{
				FirstName:         ns.FirstName,
				LastName:          ns.LastName,
				BirthDate:         ns.BirthDate,
				State:             StatePending,
				GuardianID:        g.ID,
				GradeID:           ns.GradeID,
				PreRegistrationID: preReg.ID,
				CreatedAt:         now,
				UpdatedAt:         now,
			}); err != nil {
				return err
			}
		}
		preReg, err = tx.GetPreRegistration(ctx, preReg.ID)
		return err
	})
	if err != nil {
		return PreRegistration{}, err
	}

	svc.logger.Info(fmt.Sprintf("pre-registration %d submitted", preReg.ID), map[string]interface{}{
		"guardian_id": preReg.GuardianID,
		"student_ids": preReg.StudentIDs,
	})
	return preReg, nil
}

// SetGroupActive activates or deactivates a group; inactive groups are skipped by the allocator.
func (svc *Service) SetGroupActive(ctx context.Context, groupID int64, active bool) (Group, error) {
	g, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	unlock := svc.locks.Lock(groupKey(groupID), gradeKey(g.GradeID))
	defer unlock()

	err = svc.repo.WithinTx(ctx, func(tx Repository) error {
		if g, err = tx.GetGroup(ctx, groupID, true /* forUpdate */); err != nil {
			return err
		}
		if g.IsActive == active {
			return nil
		}
		g.IsActive = active
		g.UpdatedAt = NowFunc().UTC()
		g, err = tx.SaveGroup(ctx, g)
		return err
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// =========================================================================
// Approval

// Decide applies outcome (Approved or Rejected) to a pending pre-registration, all or nothing.
//
// Rejecting moves the pre-registration and its students to Rejected. Approving first checks the capacity of
// every involved guardian for the whole batch, then places each student (id order) into a group of its grade
// and approves it; any placement failure aborts the decision with AllocationFailed and nothing is written.
// The notifier is told about each approved student once the decision is committed.
func (svc *Service) Decide(ctx context.Context, preRegID int64, outcome State) (PreRegistration, error) {
	start := NowFunc()
	preReg, placements, err := svc.decide(ctx, preRegID, outcome)
	svc.metrics.DecisionMade(outcome, KindOf(err), NowFunc().Sub(start))

	if err != nil {
		msg := fmt.Sprintf("deciding pre-registration %d (%s): %v", preRegID, outcome, err)
		if IsStorageKind(err) {
			svc.logger.Error(msg, err)
		} else {
			svc.logger.Warn(msg)
		}
		return PreRegistration{}, err
	}

	for _, p := range placements {
		svc.metrics.StudentPlaced(p.group.GradeID, p.groupCreated)
		if p.teacherID != 0 {
			svc.metrics.TeacherAssigned(true /* auto */)
		}
	}
	svc.logger.Info(fmt.Sprintf("pre-registration %d %s", preReg.ID, preReg.State), map[string]interface{}{
		"guardian_id": preReg.GuardianID,
		"student_ids": preReg.StudentIDs,
	})

	for _, p := range placements {
		svc.notify(p.studentID)
	}
	return preReg, nil
}

func (svc *Service) decide(ctx context.Context, preRegID int64, outcome State) (PreRegistration, []placement, error) {
	if err := ctx.Err(); err != nil {
		return PreRegistration{}, nil, err
	}

	// the keys to lock are read before locking, then checked again once locked
	preReg, err := svc.repo.GetPreRegistration(ctx, preRegID)
	if err != nil {
		return PreRegistration{}, nil, err
	}
	students, err := svc.repo.QueryStudents(ctx, StudentFilter{PreRegistrationID: preRegID})
	if err != nil {
		return PreRegistration{}, nil, err
	}
	keys := decisionLockKeys(preReg, students)

	unlock := svc.locks.Lock(keys...)
	defer unlock()

	var (
		d          *decision
		placements []placement
	)
	err = svc.repo.WithinTx(ctx, func(tx Repository) error {
		if d, err = loadDecision(ctx, tx, preRegID, outcome, NowFunc().UTC()); err != nil {
			return err
		}
		if !equalKeys(keys, decisionLockKeys(d.preReg, d.students)) {
			return NewError(ConcurrentModification, "pre-registration %d changed while being decided", preRegID)
		}
		if outcome == StateRejected {
			return d.reject(ctx, tx)
		}
		placements, err = svc.approve(ctx, tx, d)
		return err
	})
	if err != nil {
		return PreRegistration{}, nil, err
	}
	return d.preReg, placements, nil
}

func (svc *Service) approve(ctx context.Context, tx Repository, d *decision) ([]placement, error) {
	if err := svc.guard.CheckBatch(ctx, tx, d.requestedPerGuardian()); err != nil {
		return nil, err
	}

	placements := make([]placement, 0, len(d.students))
	for i, s := range d.students {
		if err := checkTransition(s.State, StateApproved); err != nil {
			return nil, WrapError(InvalidStateTransition, err, "student %d", s.ID)
		}
		s.State = StateApproved
		s.UpdatedAt = d.now
		s, err := tx.SaveStudent(ctx, s)
		if err != nil {
			return nil, err
		}

		p, err := svc.place(ctx, tx, s.ID, d.now)
		if err != nil {
			return nil, err
		}
		if d.students[i], err = tx.GetStudent(ctx, s.ID); err != nil {
			return nil, err
		}

		if svc.opts.AutoAssignTeachers {
			if p.teacherID, err = svc.teachers.AutoAssign(ctx, tx, p.group, d.now); err != nil {
				return nil, err
			}
		}
		placements = append(placements, p)
	}

	if err := d.close(ctx, tx, StateApproved); err != nil {
		return nil, err
	}
	return placements, nil
}

// place runs the allocator for a decision; business failures are reported as AllocationFailed.
func (svc *Service) place(ctx context.Context, tx Repository, studentID int64, now time.Time) (placement, error) {
	group, created, err := svc.alloc.Place(ctx, tx, studentID, now)
	if err != nil {
		if IsStorageKind(err) {
			return placement{}, err
		}
		return placement{}, WrapError(AllocationFailed, err, "placing student %d", studentID)
	}
	return placement{studentID: studentID, group: group, groupCreated: created}, nil
}

func (svc *Service) notify(studentID int64) {
	defer func() {
		if r := recover(); r != nil {
			svc.logger.Error(fmt.Sprintf("notifying approval of student %d: %v", studentID, r))
		}
	}()
	svc.notifier.OnStudentApproved(studentID)
}

func decisionLockKeys(preReg PreRegistration, students []Student) []string {
	keys := []string{preRegKey(preReg.ID), guardianKey(preReg.GuardianID)}
	for _, s := range students {
		keys = append(keys, guardianKey(s.GuardianID), gradeKey(s.GradeID))
	}
	return uniqueSorted(keys)
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =========================================================================
// Guardian capacity

func (svc *Service) CanAddStudent(ctx context.Context, guardianID int64) (bool, error) {
	return svc.guard.CanAddStudent(ctx, svc.repo, guardianID)
}

// AddStudent links a student to a guardian, within the guardian's capacity.
func (svc *Service) AddStudent(ctx context.Context, guardianID, studentID int64) (Student, error) {
	s, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, err
	}
	unlock := svc.locks.Lock(guardianKey(guardianID), guardianKey(s.GuardianID))
	defer unlock()

	err = svc.repo.WithinTx(ctx, func(tx Repository) error {
		s, err = svc.guard.AddStudent(ctx, tx, guardianID, studentID)
		return err
	})
	if err != nil {
		return Student{}, err
	}
	return s, nil
}

// =========================================================================
// Allocation

// PlaceStudent places an approved student that has no group yet.
func (svc *Service) PlaceStudent(ctx context.Context, studentID int64) (Group, error) {
	s, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return Group{}, err
	}
	unlock := svc.locks.Lock(guardianKey(s.GuardianID), gradeKey(s.GradeID))
	defer unlock()

	var p placement
	err = svc.repo.WithinTx(ctx, func(tx Repository) error {
		if s, err = tx.GetStudent(ctx, studentID, true /* forUpdate */); err != nil {
			return err
		}
		if s.State != StateApproved {
			return NewError(InvalidStateTransition, "student %d is %s, only approved students are placed", s.ID, s.State)
		}
		now := NowFunc().UTC()
		group, created, err := svc.alloc.Place(ctx, tx, s.ID, now)
		if err != nil {
			return err
		}
		p = placement{studentID: s.ID, group: group, groupCreated: created}
		if svc.opts.AutoAssignTeachers {
			p.teacherID, err = svc.teachers.AutoAssign(ctx, tx, p.group, now)
		}
		return err
	})
	if err != nil {
		return Group{}, err
	}

	svc.metrics.StudentPlaced(p.group.GradeID, p.groupCreated)
	if p.teacherID != 0 {
		svc.metrics.TeacherAssigned(true /* auto */)
		p.group.TeacherID = p.teacherID
	}
	return p.group, nil
}

// =========================================================================
// Teacher assignment

// AssignTeacher binds a teacher to a ready group. Assigning the same pair again is a no-op.
func (svc *Service) AssignTeacher(ctx context.Context, teacherID, groupID int64) error {
	unlock := svc.locks.Lock(teacherKey(teacherID), groupKey(groupID))
	defer unlock()

	var assigned bool
	err := svc.repo.WithinTx(ctx, func(tx Repository) (err error) {
		assigned, err = svc.teachers.Assign(ctx, tx, teacherID, groupID, NowFunc().UTC())
		return err
	})
	if err != nil || !assigned {
		return err
	}
	svc.metrics.TeacherAssigned(false /* auto */)
	svc.logger.Info(fmt.Sprintf("teacher %d assigned to group %d", teacherID, groupID))
	return nil
}

// UnassignTeacher frees a teacher from its group.
func (svc *Service) UnassignTeacher(ctx context.Context, teacherID int64) error {
	t, err := svc.repo.GetTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	keys := []string{teacherKey(teacherID)}
	if t.IsAssigned() {
		keys = append(keys, groupKey(t.GroupID))
	}
	unlock := svc.locks.Lock(keys...)
	defer unlock()

	var groupID int64
	err = svc.repo.WithinTx(ctx, func(tx Repository) error {
		groupID, err = svc.teachers.Unassign(ctx, tx, teacherID, NowFunc().UTC())
		return err
	})
	if err != nil {
		return err
	}
	svc.metrics.TeacherUnassigned()
	svc.logger.Info(fmt.Sprintf("teacher %d unassigned from group %d", teacherID, groupID))
	return nil
}

// =========================================================================
// Queries

func (svc *Service) GetPreRegistration(ctx context.Context, id int64) (PreRegistration, error) {
	return svc.repo.GetPreRegistration(ctx, id)
}

// ListPendingPreRegistrations returns the pending pre-registrations, oldest first (then by id).
func (svc *Service) ListPendingPreRegistrations(ctx context.Context) ([]PreRegistration, error) {
	preRegs, err := svc.repo.QueryPreRegistrations(ctx, StatePending)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(preRegs, func(i, j int) bool {
		if !preRegs[i].RegisteredAt.Equal(preRegs[j].RegisteredAt) {
			return preRegs[i].RegisteredAt.Before(preRegs[j].RegisteredAt)
		}
		return preRegs[i].ID < preRegs[j].ID
	})
	return preRegs, nil
}

func (svc *Service) ListGrades(ctx context.Context) ([]Grade, error) {
	return svc.repo.QueryGrades(ctx)
}

func (svc *Service) ListTeachers(ctx context.Context) ([]Teacher, error) {
	return svc.repo.QueryTeachers(ctx, TeacherFilter{})
}

// ListGroupsForGrade returns the groups of a grade by id, with their size & readiness.
func (svc *Service) ListGroupsForGrade(ctx context.Context, gradeID int64) ([]GroupSummary, error) {
	if _, err := svc.repo.GetGrade(ctx, gradeID); err != nil {
		return nil, err
	}
	groups, err := svc.repo.QueryGroups(ctx, GroupFilter{GradeID: gradeID})
	if err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })

	summaries := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, g.Summary())
	}
	return summaries, nil
}

// GetRosterForGroup returns the students of a group ordered by display name, collated for the roster
// locale, then by id.
func (svc *Service) GetRosterForGroup(ctx context.Context, groupID int64) ([]Student, error) {
	if _, err := svc.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	students, err := svc.repo.QueryStudents(ctx, StudentFilter{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	SortRoster(students, svc.opts.RosterLocale)
	return students, nil
}

// SortRoster sorts students by display name using the collation rules of locale, then by id.
func SortRoster(students []Student, locale string) {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Spanish
	}
	c := collate.New(tag)
	sort.SliceStable(students, func(i, j int) bool {
		if cmp := c.CompareString(students[i].DisplayName(), students[j].DisplayName()); cmp != 0 {
			return cmp < 0
		}
		return students[i].ID < students[j].ID
	})
}
