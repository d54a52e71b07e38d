// Package testutil holds the helpers shared by the package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
)

var loadPasswordsOnce sync.Once

type (
	LogEntry struct {
		Level string
		Msg   string
		Args  []interface{}
	}

	// Logger records log entries in memory; it is safe to use after the test returned.
	Logger struct {
		mu      sync.Mutex
		entries []LogEntry
	}
)

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger { return &Logger{} }

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Messages returns the messages logged at level, in order.
func (l *Logger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]string, 0)
	for _, e := range l.entries {
		if e.Level == level {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}

// NewConfig returns the configuration used by tests: test mode, in-memory database.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = true
	conf.TestMode = true
	conf.Database.Engine = "memory"
	return conf
}

// NewValidator returns a validator with all the application validators registered.
func NewValidator() (*validator.Validate, *ut.UniversalTranslator) {
	loadPasswordsOnce.Do(func() { user.LoadCommonPasswords(appfs.FS, NewLogger()) })

	uni := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, uni)
	user.InitValidators(validate, uni)
	enrollment.InitValidators(validate, uni)
	return validate, uni
}

// EnrollmentEnv is an enrollment service backed by a fresh in-memory database.
type EnrollmentEnv struct {
	DB      *inmemdb.DB
	Repo    enrollment.Repository
	Svc     *enrollment.Service
	Logger  *Logger
	Metrics *Metrics
	// Approved collects the students reported to the notifier, in order.
	Approved *IDRecorder
}

func NewEnrollmentEnv(t *testing.T, opts enrollment.Options) *EnrollmentEnv {
	t.Helper()
	db := inmemdb.Open()
	t.Cleanup(func() { _ = db.Close() })

	validate, _ := NewValidator()
	env := &EnrollmentEnv{
		DB:       db,
		Repo:     inmemdb.NewEnrollmentRepository(db),
		Logger:   NewLogger(),
		Metrics:  new(Metrics),
		Approved: new(IDRecorder),
	}
	env.Svc = enrollment.NewService(env.Repo, env.Approved, env.Metrics, env.Logger, validate, opts)
	return env
}

func (env *EnrollmentEnv) Grade(t *testing.T, name string) enrollment.Grade {
	t.Helper()
	g, err := env.Svc.CreateGrade(context.Background(), enrollment.NewGrade{Name: name})
	if err != nil {
		t.Fatalf("CreateGrade() failed: %v", err)
	}
	return g
}

func (env *EnrollmentEnv) Guardian(t *testing.T, name string) enrollment.Guardian {
	t.Helper()
	g, err := env.Svc.RegisterGuardian(context.Background(), enrollment.NewGuardian{Name: name})
	if err != nil {
		t.Fatalf("RegisterGuardian() failed: %v", err)
	}
	return g
}

func (env *EnrollmentEnv) Teacher(t *testing.T, name string) enrollment.Teacher {
	t.Helper()
	teacher, err := env.Svc.RegisterTeacher(context.Background(), enrollment.NewTeacher{Name: name})
	if err != nil {
		t.Fatalf("RegisterTeacher() failed: %v", err)
	}
	return teacher
}

// Submit submits a pre-registration of n students of the grade for the guardian.
func (env *EnrollmentEnv) Submit(t *testing.T, guardianID, gradeID int64, n int) enrollment.PreRegistration {
	t.Helper()
	np := enrollment.NewPreRegistration{GuardianID: guardianID}
	for i := 0; i < n; i++ {
		np.Students = append(np.Students, NewStudent(gradeID, i))
	}
	p, err := env.Svc.Submit(context.Background(), np)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	return p
}

// Approve submits a pre-registration of n students and approves it.
func (env *EnrollmentEnv) Approve(t *testing.T, guardianID, gradeID int64, n int) enrollment.PreRegistration {
	t.Helper()
	p := env.Submit(t, guardianID, gradeID, n)
	p, err := env.Svc.Decide(context.Background(), p.ID, enrollment.StateApproved)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	return p
}

// NewStudent returns a valid student input; i makes the name unique within a pre-registration.
func NewStudent(gradeID int64, i int) enrollment.NewStudent {
	return enrollment.NewStudent{
		FirstName: "Student",
		LastName:  fmt.Sprintf("Number %c", 'A'+rune(i%26)),
		BirthDate: time.Date(2015, 1, 1+i, 0, 0, 0, 0, time.UTC),
		GradeID:   gradeID,
	}
}

// IDRecorder is a thread-safe enrollment.Notifier recording the approved student ids.
type IDRecorder struct {
	mu  sync.Mutex
	ids []int64
}

var _ enrollment.Notifier = (*IDRecorder)(nil)

func (r *IDRecorder) OnStudentApproved(studentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, studentID)
}

func (r *IDRecorder) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

// Metrics is an enrollment.Metrics counting the recorded events.
type Metrics struct {
	mu               sync.Mutex
	Decisions        map[string]int // "<outcome>/<kind>"
	Placed           int
	GroupsCreated    int
	AutoAssigned     int
	ManuallyAssigned int
	Unassigned       int
}

var _ enrollment.Metrics = (*Metrics)(nil)

func (m *Metrics) DecisionMade(outcome enrollment.State, kind enrollment.Kind, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Decisions == nil {
		m.Decisions = make(map[string]int)
	}
	m.Decisions[fmt.Sprintf("%s/%s", outcome, kind)]++
}

func (m *Metrics) StudentPlaced(_ int64, groupCreated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Placed++
	if groupCreated {
		m.GroupsCreated++
	}
}

func (m *Metrics) TeacherAssigned(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if auto {
		m.AutoAssigned++
	} else {
		m.ManuallyAssigned++
	}
}

func (m *Metrics) TeacherUnassigned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unassigned++
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
