package enrollment

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Allocator places students into the groups of their grade, creating groups on demand.
type Allocator struct {
	minCapacity int
	maxCapacity int
	maxPerGrade int // 0: unlimited
}

func NewAllocator(minCapacity, maxCapacity, maxGroupsPerGrade int) *Allocator {
	return &Allocator{minCapacity: minCapacity, maxCapacity: maxCapacity, maxPerGrade: maxGroupsPerGrade}
}

// Place puts the student into the fullest active group of its grade that still has room, lowest id first
// on ties. When no group has room, a new group named "<grade name>-<n>" is created and the student placed
// first in it. Placing an already placed student fails with AlreadyAssigned; CapacityExhausted is returned
// when the grade may not have more groups. The returned group includes the student.
func (a *Allocator) Place(ctx context.Context, tx Repository, studentID int64, now time.Time) (group Group, created bool, err error) {
	s, err := tx.GetStudent(ctx, studentID, true /* forUpdate */)
	if err != nil {
		return Group{}, false, err
	}
	if s.IsPlaced() {
		return Group{}, false, NewError(AlreadyAssigned, "student %d is already in group %d", s.ID, s.GroupID)
	}
	grade, err := tx.GetGrade(ctx, s.GradeID, true /* forUpdate */)
	if err != nil {
		return Group{}, false, err
	}

	active, err := tx.QueryGroups(ctx, GroupFilter{GradeID: grade.ID, ActiveOnly: true})
	if err != nil {
		return Group{}, false, err
	}
	if candidates := withRoom(active); len(candidates) > 0 {
		group = candidates[0]
	} else {
		if group, err = a.newGroup(ctx, tx, grade, now); err != nil {
			return Group{}, false, err
		}
		created = true
	}

	s.GroupID = group.ID
	s.UpdatedAt = now
	if _, err = tx.SaveStudent(ctx, s); err != nil {
		return Group{}, false, err
	}
	group.StudentIDs = insertSorted(group.StudentIDs, s.ID)
	return group, created, nil
}

// withRoom returns the groups that are not full, fullest first, then by id.
func withRoom(groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if g.HasRoom() {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size() != out[j].Size() {
			return out[i].Size() > out[j].Size()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (a *Allocator) newGroup(ctx context.Context, tx Repository, grade Grade, now time.Time) (Group, error) {
	all, err := tx.QueryGroups(ctx, GroupFilter{GradeID: grade.ID})
	if err != nil {
		return Group{}, err
	}
	if a.maxPerGrade > 0 && len(all) >= a.maxPerGrade {
		return Group{}, NewError(CapacityExhausted,
			"grade %q already has %d groups (max %d)", grade.Name, len(all), a.maxPerGrade)
	}

	names := make(map[string]struct{}, len(all))
	for _, g := range all {
		names[g.Name] = struct{}{}
	}
	n := len(all) + 1
	name := groupName(grade, n)
	for {
		if _, taken := names[name]; !taken {
			break
		}
		n++
		name = groupName(grade, n)
	}

	return tx.SaveGroup(ctx, Group{
		Name:        name,
		GradeID:     grade.ID,
		IsActive:    true,
		MinCapacity: a.minCapacity,
		MaxCapacity: a.maxCapacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func groupName(grade Grade, n int) string {
	return fmt.Sprintf("%s-%d", grade.Name, n)
}

func insertSorted(ids []int64, id int64) []int64 {
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if idx < len(ids) && ids[idx] == id {
		return ids
	}
	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids[:idx]...)
	out = append(out, id)
	return append(out, ids[idx:]...)
}
