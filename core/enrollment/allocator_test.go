package enrollment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_withRoom(t *testing.T) {
	group := func(id int64, size, max int) Group {
		g := Group{ID: id, MinCapacity: 5, MaxCapacity: max}
		for i := 0; i < size; i++ {
			g.StudentIDs = append(g.StudentIDs, id*100+int64(i))
		}
		return g
	}
	ids := func(groups []Group) []int64 {
		out := make([]int64, 0, len(groups))
		for _, g := range groups {
			out = append(out, g.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		groups []Group
		want   []int64
	}{
		{name: "none", groups: nil, want: []int64{}},
		{name: "all full", groups: []Group{group(1, 10, 10), group(2, 10, 10)}, want: []int64{}},
		{name: "fullest first", groups: []Group{group(1, 3, 10), group(2, 7, 10), group(3, 10, 10)}, want: []int64{2, 1}},
		{name: "ties by id", groups: []Group{group(4, 2, 10), group(2, 2, 10), group(3, 2, 10)}, want: []int64{2, 3, 4}},
		// groups below the minimum follow the same order
		{name: "below minimum", groups: []Group{group(1, 1, 10), group(2, 4, 10), group(3, 0, 10)}, want: []int64{2, 1, 3}},
		{name: "own capacity", groups: []Group{group(1, 6, 6), group(2, 5, 10)}, want: []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(withRoom(tt.groups)))
		})
	}
}

func Test_groupName(t *testing.T) {
	assert.Equal(t, "5th-1", groupName(Grade{Name: "5th"}, 1))
	assert.Equal(t, "Primero A-12", groupName(Grade{Name: "Primero A"}, 12))
}

func Test_insertSorted(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		id   int64
		want []int64
	}{
		{name: "empty", ids: nil, id: 3, want: []int64{3}},
		{name: "first", ids: []int64{4, 5}, id: 3, want: []int64{3, 4, 5}},
		{name: "middle", ids: []int64{1, 5}, id: 3, want: []int64{1, 3, 5}},
		{name: "last", ids: []int64{1, 2}, id: 3, want: []int64{1, 2, 3}},
		{name: "present", ids: []int64{1, 3}, id: 3, want: []int64{1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := append([]int64(nil), tt.ids...)
			assert.Equal(t, tt.want, insertSorted(tt.ids, tt.id))
			assert.Equal(t, ids, tt.ids, "input modified")
		})
	}
}
