// Package inmemdb is an in-memory storage engine, used by the tests and by the `memory` database engine.
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
)

type (
	// DB holds the in-memory tables.
	//
	// Enrollment units of work are serialized by txMu: WithinTx stages a copy of the enrollment tables,
	// runs against the copy and swaps it in on success. mu guards the committed tables.
	DB struct {
		txMu sync.Mutex
		mu   sync.RWMutex
		data *tables

		user *userTable
	}

	tables struct {
		guardians map[int64]enrollment.Guardian
		students  map[int64]enrollment.Student
		preRegs   map[int64]enrollment.PreRegistration
		grades    map[int64]enrollment.Grade
		groups    map[int64]enrollment.Group
		teachers  map[int64]enrollment.Teacher
		seq       sequences
	}

	sequences struct {
		guardian, student, preReg, grade, group, teacher int64
	}

	userTable struct {
		table map[int64]*user.User
		seq   int64
		mutex sync.RWMutex
	}
)

var _ core.DB = (*DB)(nil)

func Open() *DB {
	return &DB{
		data: newTables(),
		user: &userTable{table: make(map[int64]*user.User)},
	}
}

func newTables() *tables {
	return &tables{
		guardians: make(map[int64]enrollment.Guardian),
		students:  make(map[int64]enrollment.Student),
		preRegs:   make(map[int64]enrollment.PreRegistration),
		grades:    make(map[int64]enrollment.Grade),
		groups:    make(map[int64]enrollment.Group),
		teachers:  make(map[int64]enrollment.Teacher),
	}
}

// clone copies the tables; rows are values and their slices are never mutated in place.
func (t *tables) clone() *tables {
	c := &tables{
		guardians: make(map[int64]enrollment.Guardian, len(t.guardians)),
		students:  make(map[int64]enrollment.Student, len(t.students)),
		preRegs:   make(map[int64]enrollment.PreRegistration, len(t.preRegs)),
		grades:    make(map[int64]enrollment.Grade, len(t.grades)),
		groups:    make(map[int64]enrollment.Group, len(t.groups)),
		teachers:  make(map[int64]enrollment.Teacher, len(t.teachers)),
		seq:       t.seq,
	}
	for k, v := range t.guardians {
		c.guardians[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	for k, v := range t.preRegs {
		c.preRegs[k] = v
	}
	for k, v := range t.grades {
		c.grades[k] = v
	}
	for k, v := range t.groups {
		c.groups[k] = v
	}
	for k, v := range t.teachers {
		c.teachers[k] = v
	}
	return c
}

// PingContext always succeeds.
func (db *DB) PingContext(ctx context.Context) error { return ctx.Err() }

// Close drops all the data.
func (db *DB) Close() error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	db.data = newTables()
	db.mu.Unlock()

	db.user.mutex.Lock()
	db.user.table = make(map[int64]*user.User)
	db.user.seq = 0
	db.user.mutex.Unlock()
	return nil
}
