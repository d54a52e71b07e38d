package enrollment

import (
	"context"
	"sort"
	"time"
)

// CanTransition reports whether an approval may move from `from` to `to`.
// Only Pending -> Approved and Pending -> Rejected are legal; terminal states have no exits.
func CanTransition(from, to State) bool {
	return from == StatePending && to.IsTerminal()
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return NewError(InvalidStateTransition, "cannot go from %q to %q", from, to)
	}
	return nil
}

type (
	// decision is one pre-registration decision, processed within a unit of work.
	decision struct {
		preReg   PreRegistration
		students []Student // id asc
		outcome  State
		now      time.Time
	}

	// placement is the allocator & teacher manager outcome for one approved student.
	placement struct {
		studentID    int64
		group        Group
		groupCreated bool
		teacherID    int64 // auto-assigned teacher, 0 if none
	}
)

// loadDecision loads and locks the pre-registration and its students, and checks that outcome may be applied.
func loadDecision(ctx context.Context, tx Repository, preRegID int64, outcome State, now time.Time) (*decision, error) {
	preReg, err := tx.GetPreRegistration(ctx, preRegID, true /* forUpdate */)
	if err != nil {
		return nil, err
	}
	if preReg.State.IsTerminal() {
		return nil, NewError(AlreadyDecided, "pre-registration %d is already %s", preRegID, preReg.State)
	}
	if err = checkTransition(preReg.State, outcome); err != nil {
		return nil, err
	}

	students := make([]Student, 0, len(preReg.StudentIDs))
	for _, id := range preReg.StudentIDs {
		s, err := tx.GetStudent(ctx, id, true /* forUpdate */)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })

	return &decision{preReg: preReg, students: students, outcome: outcome, now: now}, nil
}

// requestedPerGuardian counts the students of the decision per guardian.
func (d *decision) requestedPerGuardian() map[int64]int {
	counts := make(map[int64]int)
	for _, s := range d.students {
		counts[s.GuardianID]++
	}
	return counts
}

// reject moves the pre-registration and all its students to Rejected; nothing is allocated.
func (d *decision) reject(ctx context.Context, tx Repository) error {
	for i, s := range d.students {
		if err := checkTransition(s.State, StateRejected); err != nil {
			return WrapError(InvalidStateTransition, err, "student %d", s.ID)
		}
		s.State = StateRejected
		s.UpdatedAt = d.now
		saved, err := tx.SaveStudent(ctx, s)
		if err != nil {
			return err
		}
		d.students[i] = saved
	}
	return d.close(ctx, tx, StateRejected)
}

// close records the final state of the pre-registration.
func (d *decision) close(ctx context.Context, tx Repository, state State) error {
	d.preReg.State = state
	d.preReg.DecidedAt = d.now
	d.preReg.UpdatedAt = d.now
	saved, err := tx.SavePreRegistration(ctx, d.preReg)
	if err != nil {
		return err
	}
	d.preReg = saved
	return nil
}
