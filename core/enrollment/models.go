package enrollment

import (
	"time"

	"github.com/trezcool/shule/core"
)

// State is the approval state of a pre-registration and of its students.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

func (s State) IsTerminal() bool { return s == StateApproved || s == StateRejected }

func (s State) IsValid() bool { return s == StatePending || s.IsTerminal() }

type (
	Guardian struct {
		ID         int64     `json:"id"`
		Name       string    `json:"name"`
		Email      string    `json:"email,omitempty"`
		Phone      string    `json:"phone,omitempty"`
		DocumentID string    `json:"document_id,omitempty"`
		StudentIDs []int64   `json:"student_ids"` // owned (approved) students, id asc
		Version    int       `json:"-"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	Student struct {
		ID                int64     `json:"id"`
		FirstName         string    `json:"first_name"`
		LastName          string    `json:"last_name"`
		BirthDate         time.Time `json:"birth_date,omitempty"`
		State             State     `json:"state"`
		GuardianID        int64     `json:"guardian_id"`
		GradeID           int64     `json:"grade_id"`
		GroupID           int64     `json:"group_id,omitempty"` // 0: not placed
		PreRegistrationID int64     `json:"pre_registration_id"`
		Version           int       `json:"-"`
		CreatedAt         time.Time `json:"created_at"`
		UpdatedAt         time.Time `json:"updated_at"`
	}

	PreRegistration struct {
		ID           int64     `json:"id"`
		GuardianID   int64     `json:"guardian_id"`
		State        State     `json:"state"`
		RegisteredAt time.Time `json:"registered_at"`
		DecidedAt    time.Time `json:"decided_at,omitempty"`
		StudentIDs   []int64   `json:"student_ids"` // id asc
		Version      int       `json:"-"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	Grade struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		GroupIDs  []int64   `json:"group_ids"` // id asc
		Version   int       `json:"-"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	Group struct {
		ID          int64     `json:"id"`
		Name        string    `json:"name"`
		GradeID     int64     `json:"grade_id"`
		IsActive    bool      `json:"is_active"`
		MinCapacity int       `json:"min_capacity"`
		MaxCapacity int       `json:"max_capacity"`
		TeacherID   int64     `json:"teacher_id,omitempty"` // 0: no teacher
		StudentIDs  []int64   `json:"student_ids"`          // id asc
		Version     int       `json:"-"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	Teacher struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Email     string    `json:"email,omitempty"`
		GroupID   int64     `json:"group_id,omitempty"` // 0: free
		Version   int       `json:"-"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	// GroupSummary is a Group with its computed size & readiness.
	GroupSummary struct {
		Group
		Size    int  `json:"size"`
		IsReady bool `json:"is_ready"`
	}
)

func (s Student) DisplayName() string { return s.FirstName + " " + s.LastName }

func (s Student) IsPlaced() bool { return s.GroupID != 0 }

func (g Group) Size() int { return len(g.StudentIDs) }

func (g Group) HasRoom() bool { return g.Size() < g.MaxCapacity }

// IsReady reports whether the group reached its minimum capacity.
func (g Group) IsReady() bool { return g.Size() >= g.MinCapacity }

func (g Group) HasTeacher() bool { return g.TeacherID != 0 }

func (g Group) Summary() GroupSummary {
	return GroupSummary{Group: g, Size: g.Size(), IsReady: g.IsReady()}
}

func (t Teacher) IsAssigned() bool { return t.GroupID != 0 }

type (
	NewGuardian struct {
		Name       string `json:"name" validate:"required,notblank,personname"`
		Email      string `json:"email" validate:"omitempty,email"`
		Phone      string `json:"phone" validate:"omitempty,max=30"`
		DocumentID string `json:"document_id" validate:"omitempty,max=50"`
	}

	NewTeacher struct {
		Name  string `json:"name" validate:"required,notblank,personname"`
		Email string `json:"email" validate:"omitempty,email"`
	}

	NewGrade struct {
		Name string `json:"name" validate:"required,notblank,max=50"`
	}

	NewStudent struct {
		FirstName string    `json:"first_name" validate:"required,notblank,personname"`
		LastName  string    `json:"last_name" validate:"required,notblank,personname"`
		BirthDate time.Time `json:"birth_date"`
		GradeID   int64     `json:"grade_id" validate:"required,gt=0"`
	}

	NewPreRegistration struct {
		GuardianID int64        `json:"guardian_id" validate:"required,gt=0"`
		Students   []NewStudent `json:"students" validate:"required,min=1,dive"`
	}
)

func (ng *NewGuardian) clean() {
	ng.Name = core.CleanString(ng.Name)
	ng.Email = core.CleanString(ng.Email, true /* lower */)
	ng.Phone = core.CleanString(ng.Phone)
	ng.DocumentID = core.CleanString(ng.DocumentID)
}

func (nt *NewTeacher) clean() {
	nt.Name = core.CleanString(nt.Name)
	nt.Email = core.CleanString(nt.Email, true /* lower */)
}

func (ng *NewGrade) clean() {
	ng.Name = core.CleanString(ng.Name)
}

func (np *NewPreRegistration) clean() {
	for i := range np.Students {
		np.Students[i].FirstName = core.CleanString(np.Students[i].FirstName)
		np.Students[i].LastName = core.CleanString(np.Students[i].LastName)
	}
}
