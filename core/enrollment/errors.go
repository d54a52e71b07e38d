package enrollment

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies enrollment failures.
type Kind int

const (
	KindUnknown Kind = iota
	NotFound
	AlreadyDecided
	InvalidStateTransition
	GuardianCapacityExceeded
	AllocationFailed
	CapacityExhausted
	AlreadyAssigned
	TeacherAlreadyAssigned
	GroupAlreadyHasTeacher
	GroupNotReady
	NoGroupAssigned
	ConcurrentModification
	StorageError
)

var kindNames = [...]string{
	KindUnknown:              "Unknown",
	NotFound:                 "NotFound",
	AlreadyDecided:           "AlreadyDecided",
	InvalidStateTransition:   "InvalidStateTransition",
	GuardianCapacityExceeded: "GuardianCapacityExceeded",
	AllocationFailed:         "AllocationFailed",
	CapacityExhausted:        "CapacityExhausted",
	AlreadyAssigned:          "AlreadyAssigned",
	TeacherAlreadyAssigned:   "TeacherAlreadyAssigned",
	GroupAlreadyHasTeacher:   "GroupAlreadyHasTeacher",
	GroupNotReady:            "GroupNotReady",
	NoGroupAssigned:          "NoGroupAssigned",
	ConcurrentModification:   "ConcurrentModification",
	StorageError:             "StorageError",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds returns all the known kinds but KindUnknown.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames)-1)
	for k := NotFound; int(k) < len(kindNames); k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Error is the error type returned by the enrollment core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // cause, may be nil
}

// sentinels, for use with errors.Is
var (
	ErrNotFound                 = &Error{Kind: NotFound}
	ErrAlreadyDecided           = &Error{Kind: AlreadyDecided}
	ErrInvalidStateTransition   = &Error{Kind: InvalidStateTransition}
	ErrGuardianCapacityExceeded = &Error{Kind: GuardianCapacityExceeded}
	ErrAllocationFailed         = &Error{Kind: AllocationFailed}
	ErrCapacityExhausted        = &Error{Kind: CapacityExhausted}
	ErrAlreadyAssigned          = &Error{Kind: AlreadyAssigned}
	ErrTeacherAlreadyAssigned   = &Error{Kind: TeacherAlreadyAssigned}
	ErrGroupAlreadyHasTeacher   = &Error{Kind: GroupAlreadyHasTeacher}
	ErrGroupNotReady            = &Error{Kind: GroupNotReady}
	ErrNoGroupAssigned          = &Error{Kind: NoGroupAssigned}
	ErrConcurrentModification   = &Error{Kind: ConcurrentModification}
	ErrStorage                  = &Error{Kind: StorageError}
)

// NewError returns an *Error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError returns an *Error of the given kind caused by err.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsStorageKind reports whether err comes from the storage layer rather than from a business rule.
func IsStorageKind(err error) bool {
	k := KindOf(err)
	return k == StorageError || k == ConcurrentModification
}
