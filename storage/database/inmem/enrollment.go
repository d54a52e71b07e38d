package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/shule/core/enrollment"
)

type enrollmentRepository struct {
	db *DB
	tx *tables // staged tables; nil outside a unit of work
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db}
}

func (repo *enrollmentRepository) WithinTx(ctx context.Context, fn func(tx enrollment.Repository) error) error {
	if repo.tx != nil {
		return fn(repo)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.db.txMu.Lock()
	defer repo.db.txMu.Unlock()

	repo.db.mu.RLock()
	staged := repo.db.data.clone()
	repo.db.mu.RUnlock()

	if err := fn(&enrollmentRepository{db: repo.db, tx: staged}); err != nil {
		return err
	}

	repo.db.mu.Lock()
	repo.db.data = staged
	repo.db.mu.Unlock()
	return nil
}

// read runs fn on the tables visible to the repository.
func (repo *enrollmentRepository) read(fn func(t *tables) error) error {
	if repo.tx != nil {
		return fn(repo.tx)
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return fn(repo.db.data)
}

// write runs fn on the staged tables, or in a unit of work of its own outside WithinTx.
func (repo *enrollmentRepository) write(ctx context.Context, fn func(t *tables) error) error {
	if repo.tx != nil {
		return fn(repo.tx)
	}
	return repo.WithinTx(ctx, func(tx enrollment.Repository) error {
		return fn(tx.(*enrollmentRepository).tx)
	})
}

// =========================================================================
// Derived sets & integrity helpers

func (t *tables) studentIDs(match func(s enrollment.Student) bool) []int64 {
	ids := make([]int64, 0)
	for id, s := range t.students {
		if match(s) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

func (t *tables) guardian(g enrollment.Guardian) enrollment.Guardian {
	g.StudentIDs = t.studentIDs(func(s enrollment.Student) bool {
		return s.GuardianID == g.ID && s.State == enrollment.StateApproved
	})
	return g
}

func (t *tables) preReg(p enrollment.PreRegistration) enrollment.PreRegistration {
	p.StudentIDs = t.studentIDs(func(s enrollment.Student) bool { return s.PreRegistrationID == p.ID })
	return p
}

func (t *tables) grade(g enrollment.Grade) enrollment.Grade {
	ids := make([]int64, 0)
	for id, grp := range t.groups {
		if grp.GradeID == g.ID {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	g.GroupIDs = ids
	return g
}

func (t *tables) group(g enrollment.Group) enrollment.Group {
	g.StudentIDs = t.studentIDs(func(s enrollment.Student) bool { return s.GroupID == g.ID })
	return g
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func notFound(entity string, id int64) error {
	return enrollment.NewError(enrollment.NotFound, "%s %d not found", entity, id)
}

// nextVersion checks that the row was not modified since it was loaded and returns its new version.
func nextVersion(entity string, id int64, exists bool, stored, loaded int) (int, error) {
	if !exists {
		return 0, notFound(entity, id)
	}
	if stored != loaded {
		return 0, enrollment.NewError(enrollment.ConcurrentModification,
			"%s %d was modified concurrently (version %d, expected %d)", entity, id, stored, loaded)
	}
	return stored + 1, nil
}

func duplicate(entity, field string, value interface{}) error {
	return enrollment.NewError(enrollment.ConcurrentModification, "duplicate %s %s: %v", entity, field, value)
}

func foreignKey(entity, field string, id int64) error {
	return enrollment.NewError(enrollment.StorageError, "%s.%s references missing row %d", entity, field, id)
}

func restricted(entity string, id int64, by string) error {
	return enrollment.NewError(enrollment.StorageError, "%s %d is still referenced by %s", entity, id, by)
}

// =========================================================================
// Guardians

func (repo *enrollmentRepository) GetGuardian(_ context.Context, id int64, _ ...bool) (g enrollment.Guardian, err error) {
	err = repo.read(func(t *tables) error {
		row, ok := t.guardians[id]
		if !ok {
			return notFound("guardian", id)
		}
		g = t.guardian(row)
		return nil
	})
	return g, err
}

func (repo *enrollmentRepository) SaveGuardian(ctx context.Context, g enrollment.Guardian) (saved enrollment.Guardian, err error) {
	err = repo.write(ctx, func(t *tables) error {
		if g.ID == 0 {
			t.seq.guardian++
			g.ID, g.Version = t.seq.guardian, 1
		} else {
			stored, ok := t.guardians[g.ID]
			if g.Version, err = nextVersion("guardian", g.ID, ok, stored.Version, g.Version); err != nil {
				return err
			}
		}
		g.StudentIDs = nil
		t.guardians[g.ID] = g
		saved = t.guardian(g)
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteGuardian(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.guardians[id]; !ok {
			return notFound("guardian", id)
		}
		for sid, s := range t.students {
			if s.GuardianID == id {
				delete(t.students, sid)
			}
		}
		for pid, p := range t.preRegs {
			if p.GuardianID == id {
				delete(t.preRegs, pid)
			}
		}
		delete(t.guardians, id)
		return nil
	})
}

// =========================================================================
// Students

func (repo *enrollmentRepository) GetStudent(_ context.Context, id int64, _ ...bool) (s enrollment.Student, err error) {
	err = repo.read(func(t *tables) error {
		var ok bool
		if s, ok = t.students[id]; !ok {
			return notFound("student", id)
		}
		return nil
	})
	return s, err
}

func (repo *enrollmentRepository) SaveStudent(ctx context.Context, s enrollment.Student) (saved enrollment.Student, err error) {
	err = repo.write(ctx, func(t *tables) error {
		if _, ok := t.guardians[s.GuardianID]; !ok {
			return foreignKey("student", "guardian_id", s.GuardianID)
		}
		if _, ok := t.grades[s.GradeID]; !ok {
			return foreignKey("student", "grade_id", s.GradeID)
		}
		if _, ok := t.preRegs[s.PreRegistrationID]; !ok {
			return foreignKey("student", "pre_registration_id", s.PreRegistrationID)
		}
		if s.GroupID != 0 {
			if _, ok := t.groups[s.GroupID]; !ok {
				return foreignKey("student", "group_id", s.GroupID)
			}
			if s.State != enrollment.StateApproved {
				return enrollment.NewError(enrollment.StorageError, "student %d: only approved students have a group", s.ID)
			}
		}

		if s.ID == 0 {
			t.seq.student++
			s.ID, s.Version = t.seq.student, 1
		} else {
			stored, ok := t.students[s.ID]
			if s.Version, err = nextVersion("student", s.ID, ok, stored.Version, s.Version); err != nil {
				return err
			}
		}
		t.students[s.ID] = s
		saved = s
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteStudent(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.students[id]; !ok {
			return notFound("student", id)
		}
		delete(t.students, id)
		return nil
	})
}

func (repo *enrollmentRepository) QueryStudents(_ context.Context, filter enrollment.StudentFilter) (students []enrollment.Student, err error) {
	err = repo.read(func(t *tables) error {
		students = make([]enrollment.Student, 0)
		for _, s := range t.students {
			if (filter.PreRegistrationID == 0 || s.PreRegistrationID == filter.PreRegistrationID) &&
				(filter.GuardianID == 0 || s.GuardianID == filter.GuardianID) &&
				(filter.GroupID == 0 || s.GroupID == filter.GroupID) &&
				(filter.State == "" || s.State == filter.State) {
				students = append(students, s)
			}
		}
		return nil
	})
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students, err
}

// =========================================================================
// Pre-registrations

func (repo *enrollmentRepository) GetPreRegistration(_ context.Context, id int64, _ ...bool) (p enrollment.PreRegistration, err error) {
	err = repo.read(func(t *tables) error {
		row, ok := t.preRegs[id]
		if !ok {
			return notFound("pre-registration", id)
		}
		p = t.preReg(row)
		return nil
	})
	return p, err
}

func (repo *enrollmentRepository) SavePreRegistration(ctx context.Context, p enrollment.PreRegistration) (saved enrollment.PreRegistration, err error) {
	err = repo.write(ctx, func(t *tables) error {
		if _, ok := t.guardians[p.GuardianID]; !ok {
			return foreignKey("pre_registration", "guardian_id", p.GuardianID)
		}
		if p.ID == 0 {
			t.seq.preReg++
			p.ID, p.Version = t.seq.preReg, 1
		} else {
			stored, ok := t.preRegs[p.ID]
			if p.Version, err = nextVersion("pre-registration", p.ID, ok, stored.Version, p.Version); err != nil {
				return err
			}
		}
		p.StudentIDs = nil
		t.preRegs[p.ID] = p
		saved = t.preReg(p)
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeletePreRegistration(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.preRegs[id]; !ok {
			return notFound("pre-registration", id)
		}
		for sid, s := range t.students {
			if s.PreRegistrationID == id {
				delete(t.students, sid)
			}
		}
		delete(t.preRegs, id)
		return nil
	})
}

func (repo *enrollmentRepository) QueryPreRegistrations(_ context.Context, state enrollment.State) (preRegs []enrollment.PreRegistration, err error) {
	err = repo.read(func(t *tables) error {
		preRegs = make([]enrollment.PreRegistration, 0)
		for _, p := range t.preRegs {
			if state == "" || p.State == state {
				preRegs = append(preRegs, t.preReg(p))
			}
		}
		return nil
	})
	sort.Slice(preRegs, func(i, j int) bool {
		if !preRegs[i].RegisteredAt.Equal(preRegs[j].RegisteredAt) {
			return preRegs[i].RegisteredAt.Before(preRegs[j].RegisteredAt)
		}
		return preRegs[i].ID < preRegs[j].ID
	})
	return preRegs, err
}

// =========================================================================
// Grades

func (repo *enrollmentRepository) GetGrade(_ context.Context, id int64, _ ...bool) (g enrollment.Grade, err error) {
	err = repo.read(func(t *tables) error {
		row, ok := t.grades[id]
		if !ok {
			return notFound("grade", id)
		}
		g = t.grade(row)
		return nil
	})
	return g, err
}

func (repo *enrollmentRepository) SaveGrade(ctx context.Context, g enrollment.Grade) (saved enrollment.Grade, err error) {
	err = repo.write(ctx, func(t *tables) error {
		for id, other := range t.grades {
			if id != g.ID && other.Name == g.Name {
				return duplicate("grade", "name", g.Name)
			}
		}
		if g.ID == 0 {
			t.seq.grade++
			g.ID, g.Version = t.seq.grade, 1
		} else {
			stored, ok := t.grades[g.ID]
			if g.Version, err = nextVersion("grade", g.ID, ok, stored.Version, g.Version); err != nil {
				return err
			}
		}
		g.GroupIDs = nil
		t.grades[g.ID] = g
		saved = t.grade(g)
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteGrade(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.grades[id]; !ok {
			return notFound("grade", id)
		}
		for _, s := range t.students {
			if s.GradeID == id {
				return restricted("grade", id, "students")
			}
		}
		for gid, g := range t.groups {
			if g.GradeID == id {
				t.deleteGroup(gid)
			}
		}
		delete(t.grades, id)
		return nil
	})
}

func (repo *enrollmentRepository) QueryGrades(_ context.Context) (grades []enrollment.Grade, err error) {
	err = repo.read(func(t *tables) error {
		grades = make([]enrollment.Grade, 0, len(t.grades))
		for _, g := range t.grades {
			grades = append(grades, t.grade(g))
		}
		return nil
	})
	sort.Slice(grades, func(i, j int) bool { return grades[i].ID < grades[j].ID })
	return grades, err
}

// =========================================================================
// Groups

func (repo *enrollmentRepository) GetGroup(_ context.Context, id int64, _ ...bool) (g enrollment.Group, err error) {
	err = repo.read(func(t *tables) error {
		row, ok := t.groups[id]
		if !ok {
			return notFound("group", id)
		}
		g = t.group(row)
		return nil
	})
	return g, err
}

func (repo *enrollmentRepository) SaveGroup(ctx context.Context, g enrollment.Group) (saved enrollment.Group, err error) {
	err = repo.write(ctx, func(t *tables) error {
		if _, ok := t.grades[g.GradeID]; !ok {
			return foreignKey("class_group", "grade_id", g.GradeID)
		}
		if g.TeacherID != 0 {
			if _, ok := t.teachers[g.TeacherID]; !ok {
				return foreignKey("class_group", "teacher_id", g.TeacherID)
			}
		}
		for id, other := range t.groups {
			if id == g.ID {
				continue
			}
			if other.Name == g.Name {
				return duplicate("class_group", "name", g.Name)
			}
			if g.TeacherID != 0 && other.TeacherID == g.TeacherID {
				return duplicate("class_group", "teacher_id", g.TeacherID)
			}
		}

		if g.ID == 0 {
			t.seq.group++
			g.ID, g.Version = t.seq.group, 1
		} else {
			stored, ok := t.groups[g.ID]
			if g.Version, err = nextVersion("group", g.ID, ok, stored.Version, g.Version); err != nil {
				return err
			}
		}
		g.StudentIDs = nil
		t.groups[g.ID] = g
		saved = t.group(g)
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteGroup(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.groups[id]; !ok {
			return notFound("group", id)
		}
		for _, s := range t.students {
			if s.GroupID == id {
				return restricted("group", id, "students")
			}
		}
		t.deleteGroup(id)
		return nil
	})
}

// deleteGroup removes the group and frees its teacher.
func (t *tables) deleteGroup(id int64) {
	for tid, teacher := range t.teachers {
		if teacher.GroupID == id {
			teacher.GroupID = 0
			t.teachers[tid] = teacher
		}
	}
	delete(t.groups, id)
}

func (repo *enrollmentRepository) QueryGroups(_ context.Context, filter enrollment.GroupFilter) (groups []enrollment.Group, err error) {
	err = repo.read(func(t *tables) error {
		groups = make([]enrollment.Group, 0)
		for _, g := range t.groups {
			if (filter.GradeID == 0 || g.GradeID == filter.GradeID) && (!filter.ActiveOnly || g.IsActive) {
				groups = append(groups, t.group(g))
			}
		}
		return nil
	})
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, err
}

// =========================================================================
// Teachers

func (repo *enrollmentRepository) GetTeacher(_ context.Context, id int64, _ ...bool) (teacher enrollment.Teacher, err error) {
	err = repo.read(func(t *tables) error {
		var ok bool
		if teacher, ok = t.teachers[id]; !ok {
			return notFound("teacher", id)
		}
		return nil
	})
	return teacher, err
}

func (repo *enrollmentRepository) SaveTeacher(ctx context.Context, teacher enrollment.Teacher) (saved enrollment.Teacher, err error) {
	err = repo.write(ctx, func(t *tables) error {
		if teacher.GroupID != 0 {
			if _, ok := t.groups[teacher.GroupID]; !ok {
				return foreignKey("teacher", "group_id", teacher.GroupID)
			}
			for id, other := range t.teachers {
				if id != teacher.ID && other.GroupID == teacher.GroupID {
					return duplicate("teacher", "group_id", teacher.GroupID)
				}
			}
		}
		if teacher.ID == 0 {
			t.seq.teacher++
			teacher.ID, teacher.Version = t.seq.teacher, 1
		} else {
			stored, ok := t.teachers[teacher.ID]
			if teacher.Version, err = nextVersion("teacher", teacher.ID, ok, stored.Version, teacher.Version); err != nil {
				return err
			}
		}
		t.teachers[teacher.ID] = teacher
		saved = teacher
		return nil
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteTeacher(ctx context.Context, id int64) error {
	return repo.write(ctx, func(t *tables) error {
		if _, ok := t.teachers[id]; !ok {
			return notFound("teacher", id)
		}
		for gid, g := range t.groups {
			if g.TeacherID == id {
				g.TeacherID = 0
				t.groups[gid] = g
			}
		}
		delete(t.teachers, id)
		return nil
	})
}

func (repo *enrollmentRepository) QueryTeachers(_ context.Context, filter enrollment.TeacherFilter) (teachers []enrollment.Teacher, err error) {
	err = repo.read(func(t *tables) error {
		teachers = make([]enrollment.Teacher, 0, len(t.teachers))
		for _, teacher := range t.teachers {
			if !filter.FreeOnly || !teacher.IsAssigned() {
				teachers = append(teachers, teacher)
			}
		}
		return nil
	})
	sort.Slice(teachers, func(i, j int) bool { return teachers[i].ID < teachers[j].ID })
	return teachers, err
}
