package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind groups error codes by the stage that raises them.
type Kind int

const (
	// Structural errors come from topology construction and are never recoverable.
	Structural Kind = iota
	// Planning errors make the whole planning run unusable.
	Planning
	// Application errors come from a single command failing on a live node.
	Application
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Planning:
		return "planning"
	case Application:
		return "application"
	default:
		return "unknown"
	}
}

// Sentinel codes, matched with errors.Is.
var (
	ErrDuplicateNode    = errors.New("duplicate node")
	ErrUnknownNode      = errors.New("unknown node")
	ErrDuplicateLink    = errors.New("duplicate link")
	ErrDuplicatePath    = errors.New("duplicate path")
	ErrDisconnectedPath = errors.New("disconnected path")

	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	ErrConflictingAssignment = errors.New("conflicting assignment")
	ErrUnreachableSubnet     = errors.New("unreachable subnet")
	ErrAmbiguousTrafficClass = errors.New("ambiguous traffic class")
	ErrUnknownPath           = errors.New("unknown path")
	ErrPlanInvalid           = errors.New("plan has validation errors")

	ErrCommandFailed = errors.New("command failed")
)

var kinds = map[error]Kind{
	ErrDuplicateNode:         Structural,
	ErrUnknownNode:           Structural,
	ErrDuplicateLink:         Structural,
	ErrDuplicatePath:         Structural,
	ErrDisconnectedPath:      Structural,
	ErrAddressSpaceExhausted: Planning,
	ErrConflictingAssignment: Planning,
	ErrUnreachableSubnet:     Planning,
	ErrAmbiguousTrafficClass: Planning,
	ErrUnknownPath:           Planning,
	ErrPlanInvalid:           Planning,
	ErrCommandFailed:         Application,
}

// Error carries a code together with the entity the caller has to fix.
type Error struct {
	Code   error
	Entity string
	Detail string
}

func New(code error, entity, format string, args ...interface{}) *Error {
	return &Error{Code: code, Entity: entity, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", e.Code, e.Entity)
	}
	return fmt.Sprintf("%v: %s: %s", e.Code, e.Entity, e.Detail)
}

func (e *Error) Unwrap() error { return e.Code }

func (e *Error) Kind() Kind { return kinds[e.Code] }

// KindOf walks the chain and returns the kind of the first *Error found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind(), true
	}
	return 0, false
}

func IsStructural(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Structural
}

func IsPlanning(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Planning
}
