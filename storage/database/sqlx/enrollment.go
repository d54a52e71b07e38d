package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/enrollment"
)

type (
	enrollmentRepository struct {
		db *sqlx.DB

		// set within a unit of work
		tx    *sqlx.Tx
		txCtx context.Context
	}

	guardianRow struct {
		ID         int64         `db:"id"`
		Name       string        `db:"name"`
		Email      string        `db:"email"`
		Phone      string        `db:"phone"`
		DocumentID string        `db:"document_id"`
		StudentIDs pq.Int64Array `db:"student_ids"`
		Version    int           `db:"version"`
		CreatedAt  time.Time     `db:"created_at"`
		UpdatedAt  time.Time     `db:"updated_at"`
	}

	studentRow struct {
		ID                int64      `db:"id"`
		FirstName         string     `db:"first_name"`
		LastName          string     `db:"last_name"`
		BirthDate         null.Time  `db:"birth_date"`
		State             string     `db:"state"`
		GuardianID        int64      `db:"guardian_id"`
		GradeID           int64      `db:"grade_id"`
		GroupID           null.Int64 `db:"group_id"`
		PreRegistrationID int64      `db:"pre_registration_id"`
		Version           int        `db:"version"`
		CreatedAt         time.Time  `db:"created_at"`
		UpdatedAt         time.Time  `db:"updated_at"`
	}

	preRegRow struct {
		ID           int64         `db:"id"`
		GuardianID   int64         `db:"guardian_id"`
		State        string        `db:"state"`
		RegisteredAt time.Time     `db:"registered_at"`
		DecidedAt    null.Time     `db:"decided_at"`
		StudentIDs   pq.Int64Array `db:"student_ids"`
		Version      int           `db:"version"`
		CreatedAt    time.Time     `db:"created_at"`
		UpdatedAt    time.Time     `db:"updated_at"`
	}

	gradeRow struct {
		ID        int64         `db:"id"`
		Name      string        `db:"name"`
		GroupIDs  pq.Int64Array `db:"group_ids"`
		Version   int           `db:"version"`
		CreatedAt time.Time     `db:"created_at"`
		UpdatedAt time.Time     `db:"updated_at"`
	}

	groupRow struct {
		ID          int64         `db:"id"`
		Name        string        `db:"name"`
		GradeID     int64         `db:"grade_id"`
		IsActive    bool          `db:"is_active"`
		MinCapacity int           `db:"min_capacity"`
		MaxCapacity int           `db:"max_capacity"`
		TeacherID   null.Int64    `db:"teacher_id"`
		StudentIDs  pq.Int64Array `db:"student_ids"`
		Version     int           `db:"version"`
		CreatedAt   time.Time     `db:"created_at"`
		UpdatedAt   time.Time     `db:"updated_at"`
	}

	teacherRow struct {
		ID        int64      `db:"id"`
		Name      string     `db:"name"`
		Email     string     `db:"email"`
		GroupID   null.Int64 `db:"group_id"`
		Version   int        `db:"version"`
		CreatedAt time.Time  `db:"created_at"`
		UpdatedAt time.Time  `db:"updated_at"`
	}
)

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) enrollment.Repository {
	return &enrollmentRepository{db: db}
}

const (
	guardianSelect = `SELECT g.id, g.name, g.email, g.phone, g.document_id, g.version, g.created_at, g.updated_at,
	ARRAY(SELECT s.id FROM student s WHERE s.guardian_id = g.id AND s.state = 'approved' ORDER BY s.id) AS student_ids
	FROM guardian g`

	studentSelect = `SELECT id, first_name, last_name, birth_date, state, guardian_id, grade_id, group_id,
	pre_registration_id, version, created_at, updated_at
	FROM student`

	preRegSelect = `SELECT p.id, p.guardian_id, p.state, p.registered_at, p.decided_at, p.version, p.created_at, p.updated_at,
	ARRAY(SELECT s.id FROM student s WHERE s.pre_registration_id = p.id ORDER BY s.id) AS student_ids
	FROM pre_registration p`

	gradeSelect = `SELECT g.id, g.name, g.version, g.created_at, g.updated_at,
	ARRAY(SELECT cg.id FROM class_group cg WHERE cg.grade_id = g.id ORDER BY cg.id) AS group_ids
	FROM grade g`

	groupSelect = `SELECT cg.id, cg.name, cg.grade_id, cg.is_active, cg.min_capacity, cg.max_capacity, cg.teacher_id,
	cg.version, cg.created_at, cg.updated_at,
	ARRAY(SELECT s.id FROM student s WHERE s.group_id = cg.id ORDER BY s.id) AS student_ids
	FROM class_group cg`

	teacherSelect = `SELECT id, name, email, group_id, version, created_at, updated_at FROM teacher`
)

func (repo *enrollmentRepository) WithinTx(ctx context.Context, fn func(tx enrollment.Repository) error) error {
	if repo.tx != nil {
		return fn(repo)
	}
	return runInTx(ctx, repo.db, func(txCtx context.Context, tx *sqlx.Tx) error {
		return fn(&enrollmentRepository{db: repo.db, tx: tx, txCtx: txCtx})
	})
}

// exec returns the executor and the context the statements run with: the transaction's within a unit
// of work, the database's otherwise.
func (repo *enrollmentRepository) exec(ctx context.Context) (context.Context, sqlx.ExtContext) {
	if repo.tx != nil {
		return repo.txCtx, repo.tx
	}
	return ctx, repo.db
}

// write runs fn in the current unit of work, or in one of its own.
func (repo *enrollmentRepository) write(ctx context.Context, fn func(tx *enrollmentRepository) error) error {
	if repo.tx != nil {
		return fn(repo)
	}
	return repo.WithinTx(ctx, func(tx enrollment.Repository) error {
		return fn(tx.(*enrollmentRepository))
	})
}

// lockClause returns the row lock suffix for a get; rows are only locked within a unit of work.
func (repo *enrollmentRepository) lockClause(alias string, forUpdate []bool) string {
	if repo.tx == nil || len(forUpdate) == 0 || !forUpdate[0] {
		return ""
	}
	if alias == "" {
		return " FOR UPDATE"
	}
	return " FOR UPDATE OF " + alias
}

func (repo *enrollmentRepository) get(ctx context.Context, dest interface{}, entity string, id int64, query string) error {
	ctx, exe := repo.exec(ctx)
	if err := sqlx.GetContext(ctx, exe, dest, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrollment.NewError(enrollment.NotFound, "%s %d not found", entity, id)
		}
		return storageErr(err, "loading %s %d", entity, id)
	}
	return nil
}

// insert runs an INSERT ... RETURNING id.
func (repo *enrollmentRepository) insert(ctx context.Context, entity, query string, arg interface{}) (int64, error) {
	ctx, exe := repo.exec(ctx)
	rows, err := sqlx.NamedQueryContext(ctx, exe, query, arg)
	if err != nil {
		return 0, storageErr(err, "inserting %s", entity)
	}
	defer func() { _ = rows.Close() }()

	var id int64
	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, storageErr(err, "inserting %s", entity)
		}
	}
	if err = rows.Err(); err != nil {
		return 0, storageErr(err, "inserting %s", entity)
	}
	return id, nil
}

// update runs a versioned UPDATE: no row affected means the row is gone or its version moved on.
func (repo *enrollmentRepository) update(ctx context.Context, table, entity string, id int64, version int, query string, arg interface{}) error {
	ctx, exe := repo.exec(ctx)
	res, err := sqlx.NamedExecContext(ctx, exe, query, arg)
	if err != nil {
		return storageErr(err, "updating %s %d", entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err, "updating %s %d", entity, id)
	}
	if n > 0 {
		return nil
	}

	var stored int
	if err = sqlx.GetContext(ctx, exe, &stored, "SELECT version FROM "+table+" WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrollment.NewError(enrollment.NotFound, "%s %d not found", entity, id)
		}
		return storageErr(err, "updating %s %d", entity, id)
	}
	return enrollment.NewError(enrollment.ConcurrentModification,
		"%s %d was modified concurrently (version %d, expected %d)", entity, id, stored, version)
}

func (repo *enrollmentRepository) delete(ctx context.Context, table, entity string, id int64) error {
	return repo.write(ctx, func(tx *enrollmentRepository) error {
		ctx, exe := tx.exec(ctx)
		res, err := exe.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
		if err != nil {
			return storageErr(err, "deleting %s %d", entity, id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageErr(err, "deleting %s %d", entity, id)
		}
		if n == 0 {
			return enrollment.NewError(enrollment.NotFound, "%s %d not found", entity, id)
		}
		return nil
	})
}

func (repo *enrollmentRepository) query(ctx context.Context, dest interface{}, entity, query string, args ...interface{}) error {
	ctx, exe := repo.exec(ctx)
	if err := sqlx.SelectContext(ctx, exe, dest, query, args...); err != nil {
		return storageErr(err, "querying %s", entity)
	}
	return nil
}

func ids(a pq.Int64Array) []int64 {
	if a == nil {
		return make([]int64, 0)
	}
	return []int64(a)
}

func nullID(id int64) null.Int64 { return null.NewInt64(id, id != 0) }

func nullTime(t time.Time) null.Time { return null.NewTime(t.UTC(), !t.IsZero()) }

// =========================================================================
// Guardians

func (r guardianRow) model() enrollment.Guardian {
	return enrollment.Guardian{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		DocumentID: r.DocumentID,
		StudentIDs: ids(r.StudentIDs),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (repo *enrollmentRepository) GetGuardian(ctx context.Context, id int64, forUpdate ...bool) (enrollment.Guardian, error) {
	var row guardianRow
	if err := repo.get(ctx, &row, "guardian", id, guardianSelect+" WHERE g.id = $1"+repo.lockClause("g", forUpdate)); err != nil {
		return enrollment.Guardian{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SaveGuardian(ctx context.Context, g enrollment.Guardian) (saved enrollment.Guardian, err error) {
	row := guardianRow{
		ID: g.ID, Name: g.Name, Email: g.Email, Phone: g.Phone, DocumentID: g.DocumentID,
		Version: g.Version, CreatedAt: g.CreatedAt.UTC(), UpdatedAt: g.UpdatedAt.UTC(),
	}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "guardian", `INSERT INTO guardian (name, email, phone, document_id, created_at, updated_at)
				VALUES (:name, :email, :phone, :document_id, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "guardian", "guardian", row.ID, row.Version, `UPDATE guardian
			SET name = :name, email = :email, phone = :phone, document_id = :document_id,
				updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetGuardian(ctx, row.ID)
		return err
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteGuardian(ctx context.Context, id int64) error {
	return repo.delete(ctx, "guardian", "guardian", id)
}

// =========================================================================
// Students

func (r studentRow) model() enrollment.Student {
	s := enrollment.Student{
		ID:                r.ID,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		State:             enrollment.State(r.State),
		GuardianID:        r.GuardianID,
		GradeID:           r.GradeID,
		GroupID:           r.GroupID.Int64,
		PreRegistrationID: r.PreRegistrationID,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.BirthDate.Valid {
		bd := r.BirthDate.Time
		s.BirthDate = time.Date(bd.Year(), bd.Month(), bd.Day(), 0, 0, 0, 0, time.UTC)
	}
	return s
}

func (repo *enrollmentRepository) GetStudent(ctx context.Context, id int64, forUpdate ...bool) (enrollment.Student, error) {
	var row studentRow
	if err := repo.get(ctx, &row, "student", id, studentSelect+" WHERE id = $1"+repo.lockClause("", forUpdate)); err != nil {
		return enrollment.Student{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SaveStudent(ctx context.Context, s enrollment.Student) (saved enrollment.Student, err error) {
	row := studentRow{
		ID:                s.ID,
		FirstName:         s.FirstName,
		LastName:          s.LastName,
		BirthDate:         nullTime(s.BirthDate),
		State:             string(s.State),
		GuardianID:        s.GuardianID,
		GradeID:           s.GradeID,
		GroupID:           nullID(s.GroupID),
		PreRegistrationID: s.PreRegistrationID,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "student", `INSERT INTO student (first_name, last_name, birth_date, state,
					guardian_id, grade_id, group_id, pre_registration_id, created_at, updated_at)
				VALUES (:first_name, :last_name, :birth_date, :state,
					:guardian_id, :grade_id, :group_id, :pre_registration_id, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "student", "student", row.ID, row.Version, `UPDATE student
			SET first_name = :first_name, last_name = :last_name, birth_date = :birth_date, state = :state,
				guardian_id = :guardian_id, grade_id = :grade_id, group_id = :group_id,
				pre_registration_id = :pre_registration_id, updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetStudent(ctx, row.ID)
		return err
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteStudent(ctx context.Context, id int64) error {
	return repo.delete(ctx, "student", "student", id)
}

func (repo *enrollmentRepository) QueryStudents(ctx context.Context, filter enrollment.StudentFilter) ([]enrollment.Student, error) {
	var w where
	if filter.PreRegistrationID != 0 {
		w.add("pre_registration_id = ?", filter.PreRegistrationID)
	}
	if filter.GuardianID != 0 {
		w.add("guardian_id = ?", filter.GuardianID)
	}
	if filter.GroupID != 0 {
		w.add("group_id = ?", filter.GroupID)
	}
	if filter.State != "" {
		w.add("state = ?", string(filter.State))
	}

	var rows []studentRow
	if err := repo.query(ctx, &rows, "students", studentSelect+w.String()+" ORDER BY id", w.args...); err != nil {
		return nil, err
	}
	students := make([]enrollment.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.model())
	}
	return students, nil
}

// =========================================================================
// Pre-registrations

func (r preRegRow) model() enrollment.PreRegistration {
	p := enrollment.PreRegistration{
		ID:           r.ID,
		GuardianID:   r.GuardianID,
		State:        enrollment.State(r.State),
		RegisteredAt: r.RegisteredAt.UTC(),
		StudentIDs:   ids(r.StudentIDs),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.DecidedAt.Valid {
		p.DecidedAt = r.DecidedAt.Time.UTC()
	}
	return p
}

func (repo *enrollmentRepository) GetPreRegistration(ctx context.Context, id int64, forUpdate ...bool) (enrollment.PreRegistration, error) {
	var row preRegRow
	if err := repo.get(ctx, &row, "pre-registration", id, preRegSelect+" WHERE p.id = $1"+repo.lockClause("p", forUpdate)); err != nil {
		return enrollment.PreRegistration{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SavePreRegistration(ctx context.Context, p enrollment.PreRegistration) (saved enrollment.PreRegistration, err error) {
	row := preRegRow{
		ID:           p.ID,
		GuardianID:   p.GuardianID,
		State:        string(p.State),
		RegisteredAt: p.RegisteredAt.UTC(),
		DecidedAt:    nullTime(p.DecidedAt),
		Version:      p.Version,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "pre-registration", `INSERT INTO pre_registration (guardian_id, state,
					registered_at, decided_at, created_at, updated_at)
				VALUES (:guardian_id, :state, :registered_at, :decided_at, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "pre_registration", "pre-registration", row.ID, row.Version, `UPDATE pre_registration
			SET guardian_id = :guardian_id, state = :state, registered_at = :registered_at, decided_at = :decided_at,
				updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetPreRegistration(ctx, row.ID)
		return err
	})
	return saved, err
}

func (repo *enrollmentRepository) DeletePreRegistration(ctx context.Context, id int64) error {
	return repo.delete(ctx, "pre_registration", "pre-registration", id)
}

func (repo *enrollmentRepository) QueryPreRegistrations(ctx context.Context, state enrollment.State) ([]enrollment.PreRegistration, error) {
	var w where
	if state != "" {
		w.add("p.state = ?", string(state))
	}

	var rows []preRegRow
	if err := repo.query(ctx, &rows, "pre-registrations", preRegSelect+w.String()+" ORDER BY p.registered_at, p.id", w.args...); err != nil {
		return nil, err
	}
	preRegs := make([]enrollment.PreRegistration, 0, len(rows))
	for _, r := range rows {
		preRegs = append(preRegs, r.model())
	}
	return preRegs, nil
}

// =========================================================================
// Grades

func (r gradeRow) model() enrollment.Grade {
	return enrollment.Grade{
		ID:        r.ID,
		Name:      r.Name,
		GroupIDs:  ids(r.GroupIDs),
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (repo *enrollmentRepository) GetGrade(ctx context.Context, id int64, forUpdate ...bool) (enrollment.Grade, error) {
	var row gradeRow
	if err := repo.get(ctx, &row, "grade", id, gradeSelect+" WHERE g.id = $1"+repo.lockClause("g", forUpdate)); err != nil {
		return enrollment.Grade{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SaveGrade(ctx context.Context, g enrollment.Grade) (saved enrollment.Grade, err error) {
	row := gradeRow{ID: g.ID, Name: g.Name, Version: g.Version, CreatedAt: g.CreatedAt.UTC(), UpdatedAt: g.UpdatedAt.UTC()}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "grade", `INSERT INTO grade (name, created_at, updated_at)
				VALUES (:name, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "grade", "grade", row.ID, row.Version, `UPDATE grade
			SET name = :name, updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetGrade(ctx, row.ID)
		return err
	})
	return saved, err
}

func (repo *enrollmentRepository) DeleteGrade(ctx context.Context, id int64) error {
	return repo.delete(ctx, "grade", "grade", id)
}

func (repo *enrollmentRepository) QueryGrades(ctx context.Context) ([]enrollment.Grade, error) {
	var rows []gradeRow
	if err := repo.query(ctx, &rows, "grades", gradeSelect+" ORDER BY g.id"); err != nil {
		return nil, err
	}
	grades := make([]enrollment.Grade, 0, len(rows))
	for _, r := range rows {
		grades = append(grades, r.model())
	}
	return grades, nil
}

// =========================================================================
// Groups

func (r groupRow) model() enrollment.Group {
	return enrollment.Group{
		ID:          r.ID,
		Name:        r.Name,
		GradeID:     r.GradeID,
		IsActive:    r.IsActive,
		MinCapacity: r.MinCapacity,
		MaxCapacity: r.MaxCapacity,
		TeacherID:   r.TeacherID.Int64,
		StudentIDs:  ids(r.StudentIDs),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (repo *enrollmentRepository) GetGroup(ctx context.Context, id int64, forUpdate ...bool) (enrollment.Group, error) {
	var row groupRow
	if err := repo.get(ctx, &row, "group", id, groupSelect+" WHERE cg.id = $1"+repo.lockClause("cg", forUpdate)); err != nil {
		return enrollment.Group{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SaveGroup(ctx context.Context, g enrollment.Group) (saved enrollment.Group, err error) {
	row := groupRow{
		ID:          g.ID,
		Name:        g.Name,
		GradeID:     g.GradeID,
		IsActive:    g.IsActive,
		MinCapacity: g.MinCapacity,
		MaxCapacity: g.MaxCapacity,
		TeacherID:   nullID(g.TeacherID),
		Version:     g.Version,
		CreatedAt:   g.CreatedAt.UTC(),
		UpdatedAt:   g.UpdatedAt.UTC(),
	}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "group", `INSERT INTO class_group (name, grade_id, is_active,
					min_capacity, max_capacity, teacher_id, created_at, updated_at)
				VALUES (:name, :grade_id, :is_active,
					:min_capacity, :max_capacity, :teacher_id, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "class_group", "group", row.ID, row.Version, `UPDATE class_group
			SET name = :name, grade_id = :grade_id, is_active = :is_active, min_capacity = :min_capacity,
				max_capacity = :max_capacity, teacher_id = :teacher_id, updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetGroup(ctx, row.ID)
		return err
	})
	return saved, err
}

// DeleteGroup fails while students are placed in the group; its teacher is freed.
func (repo *enrollmentRepository) DeleteGroup(ctx context.Context, id int64) error {
	return repo.delete(ctx, "class_group", "group", id)
}

func (repo *enrollmentRepository) QueryGroups(ctx context.Context, filter enrollment.GroupFilter) ([]enrollment.Group, error) {
	var w where
	if filter.GradeID != 0 {
		w.add("cg.grade_id = ?", filter.GradeID)
	}
	if filter.ActiveOnly {
		w.add("cg.is_active = ?", true)
	}

	var rows []groupRow
	if err := repo.query(ctx, &rows, "groups", groupSelect+w.String()+" ORDER BY cg.id", w.args...); err != nil {
		return nil, err
	}
	groups := make([]enrollment.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.model())
	}
	return groups, nil
}

// =========================================================================
// Teachers

func (r teacherRow) model() enrollment.Teacher {
	return enrollment.Teacher{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		GroupID:   r.GroupID.Int64,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (repo *enrollmentRepository) GetTeacher(ctx context.Context, id int64, forUpdate ...bool) (enrollment.Teacher, error) {
	var row teacherRow
	if err := repo.get(ctx, &row, "teacher", id, teacherSelect+" WHERE id = $1"+repo.lockClause("", forUpdate)); err != nil {
		return enrollment.Teacher{}, err
	}
	return row.model(), nil
}

func (repo *enrollmentRepository) SaveTeacher(ctx context.Context, t enrollment.Teacher) (saved enrollment.Teacher, err error) {
	row := teacherRow{
		ID:        t.ID,
		Name:      t.Name,
		Email:     t.Email,
		GroupID:   nullID(t.GroupID),
		Version:   t.Version,
		CreatedAt: t.CreatedAt.UTC(),
		UpdatedAt: t.UpdatedAt.UTC(),
	}
	err = repo.write(ctx, func(tx *enrollmentRepository) error {
		if row.ID == 0 {
			if row.ID, err = tx.insert(ctx, "teacher", `INSERT INTO teacher (name, email, group_id, created_at, updated_at)
				VALUES (:name, :email, :group_id, :created_at, :updated_at) RETURNING id`, row); err != nil {
				return err
			}
		} else if err = tx.update(ctx, "teacher", "teacher", row.ID, row.Version, `UPDATE teacher
			SET name = :name, email = :email, group_id = :group_id, updated_at = :updated_at, version = version + 1
			WHERE id = :id AND version = :version`, row); err != nil {
			return err
		}
		saved, err = tx.GetTeacher(ctx, row.ID)
		return err
	})
	return saved, err
}

// DeleteTeacher frees the teacher's group.
func (repo *enrollmentRepository) DeleteTeacher(ctx context.Context, id int64) error {
	return repo.delete(ctx, "teacher", "teacher", id)
}

func (repo *enrollmentRepository) QueryTeachers(ctx context.Context, filter enrollment.TeacherFilter) ([]enrollment.Teacher, error) {
	query := teacherSelect
	if filter.FreeOnly {
		query += " WHERE group_id IS NULL"
	}

	var rows []teacherRow
	if err := repo.query(ctx, &rows, "teachers", query+" ORDER BY id"); err != nil {
		return nil, err
	}
	teachers := make([]enrollment.Teacher, 0, len(rows))
	for _, r := range rows {
		teachers = append(teachers, r.model())
	}
	return teachers, nil
}
