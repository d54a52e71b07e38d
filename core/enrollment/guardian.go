package enrollment

import (
	"context"
	"sort"
)

// GuardianGuard enforces the maximum number of students owned by a guardian.
// A guardian owns the approved students linked to it.
type GuardianGuard struct {
	max int
}

func NewGuardianGuard(max int) *GuardianGuard {
	return &GuardianGuard{max: max}
}

func (gg *GuardianGuard) Max() int { return gg.max }

// CanAddStudent reports whether the guardian may own one more student.
func (gg *GuardianGuard) CanAddStudent(ctx context.Context, repo Repository, guardianID int64) (bool, error) {
	g, err := repo.GetGuardian(ctx, guardianID)
	if err != nil {
		return false, err
	}
	return len(g.StudentIDs) < gg.max, nil
}

// AddStudent links the student to the guardian, failing with GuardianCapacityExceeded when the guardian
// already owns the maximum number of students. Linking a student already linked to the guardian is a no-op.
func (gg *GuardianGuard) AddStudent(ctx context.Context, tx Repository, guardianID, studentID int64) (Student, error) {
	g, err := tx.GetGuardian(ctx, guardianID, true /* forUpdate */)
	if err != nil {
		return Student{}, err
	}
	s, err := tx.GetStudent(ctx, studentID, true /* forUpdate */)
	if err != nil {
		return Student{}, err
	}
	if s.GuardianID == guardianID {
		return s, nil
	}
	if len(g.StudentIDs) >= gg.max {
		return Student{}, NewError(GuardianCapacityExceeded,
			"guardian %d already has %d students (max %d)", guardianID, len(g.StudentIDs), gg.max)
	}
	s.GuardianID = guardianID
	return tx.SaveStudent(ctx, s)
}

// CheckBatch checks, before anything is written, that every guardian can take all the students requested for it.
// Checks are cumulative: a guardian owning max-1 students cannot take two more.
func (gg *GuardianGuard) CheckBatch(ctx context.Context, tx Repository, requested map[int64]int) error {
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		g, err := tx.GetGuardian(ctx, id, true /* forUpdate */)
		if err != nil {
			return err
		}
		if owned := len(g.StudentIDs); owned+requested[id] > gg.max {
			return NewError(GuardianCapacityExceeded,
				"guardian %d owns %d students, cannot take %d more (max %d)", id, owned, requested[id], gg.max)
		}
	}
	return nil
}
