package enrollment

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// TeacherManager binds teachers to groups, one to one. Both sides of a binding are always written together.
type TeacherManager struct{}

func NewTeacherManager() *TeacherManager { return &TeacherManager{} }

// Assign binds the teacher to the group. Binding the same pair again is a no-op and reports false.
func (tm *TeacherManager) Assign(ctx context.Context, tx Repository, teacherID, groupID int64, now time.Time) (bool, error) {
	t, err := tx.GetTeacher(ctx, teacherID, true /* forUpdate */)
	if err != nil {
		return false, err
	}
	g, err := tx.GetGroup(ctx, groupID, true /* forUpdate */)
	if err != nil {
		return false, err
	}

	switch {
	case t.GroupID == g.ID && g.TeacherID == t.ID:
		return false, nil
	case t.IsAssigned():
		return false, NewError(TeacherAlreadyAssigned, "teacher %d already teaches group %d", t.ID, t.GroupID)
	case !g.IsActive:
		return false, NewError(GroupNotReady, "group %q is not active", g.Name)
	case !g.IsReady():
		return false, NewError(GroupNotReady, "group %q has %d students (min %d)", g.Name, g.Size(), g.MinCapacity)
	case g.HasTeacher():
		return false, NewError(GroupAlreadyHasTeacher, "group %q already has teacher %d", g.Name, g.TeacherID)
	}

	t.GroupID, t.UpdatedAt = g.ID, now
	g.TeacherID, g.UpdatedAt = t.ID, now
	if _, err = tx.SaveTeacher(ctx, t); err != nil {
		return false, err
	}
	if _, err = tx.SaveGroup(ctx, g); err != nil {
		return false, err
	}
	return true, nil
}

// Unassign clears the teacher's binding, on both sides.
func (tm *TeacherManager) Unassign(ctx context.Context, tx Repository, teacherID int64, now time.Time) (groupID int64, err error) {
	t, err := tx.GetTeacher(ctx, teacherID, true /* forUpdate */)
	if err != nil {
		return 0, err
	}
	if !t.IsAssigned() {
		return 0, NewError(NoGroupAssigned, "teacher %d has no group", t.ID)
	}
	groupID = t.GroupID

	g, err := tx.GetGroup(ctx, groupID, true /* forUpdate */)
	if err != nil {
		return 0, err
	}
	t.GroupID, t.UpdatedAt = 0, now
	if _, err = tx.SaveTeacher(ctx, t); err != nil {
		return 0, err
	}
	if g.TeacherID == t.ID {
		g.TeacherID, g.UpdatedAt = 0, now
		if _, err = tx.SaveGroup(ctx, g); err != nil {
			return 0, err
		}
	}
	return groupID, nil
}

// AutoAssign binds the free teacher with the lowest id to the group when the group is ready and has no teacher.
// It returns the id of the bound teacher, 0 if nothing was done. The free list is read without locks: a
// candidate taken by a concurrent assignment is skipped, and a group that got a teacher meanwhile is left as is.
func (tm *TeacherManager) AutoAssign(ctx context.Context, tx Repository, group Group, now time.Time) (int64, error) {
	if group.HasTeacher() || !group.IsActive || !group.IsReady() {
		return 0, nil
	}
	free, err := tx.QueryTeachers(ctx, TeacherFilter{FreeOnly: true})
	if err != nil {
		return 0, err
	}
	sort.Slice(free, func(i, j int) bool { return free[i].ID < free[j].ID })

	for _, t := range free {
		bound, err := tm.Assign(ctx, tx, t.ID, group.ID, now)
		switch {
		case err == nil:
			if !bound {
				return 0, nil
			}
			return t.ID, nil
		case errors.Is(err, ErrTeacherAlreadyAssigned):
			continue
		case errors.Is(err, ErrGroupAlreadyHasTeacher), errors.Is(err, ErrGroupNotReady):
			return 0, nil
		default:
			return 0, err
		}
	}
	return 0, nil
}
