package core

// Value is a managed value as seen by the concurrency core. The object model
// itself is an external collaborator; this core only moves values around,
// stores them in scope slots and hands them between fibers and threads.
type Value = any

// nilValue is the unexported type backing the Nil sentinel so it can never be
// confused with an untyped Go nil stored by managed code.
type nilValue struct{}

func (nilValue) String() string { return "nil" }

// Nil is the no-value sentinel. Sending Nil on a channel issues a permit
// rather than queueing a payload, and an empty argument list boxes to Nil.
var Nil Value = nilValue{}

// IsNil reports whether v is the no-value sentinel.
func IsNil(v Value) bool {
	_, ok := v.(nilValue)
	return ok
}

// Tuple is the boxed form of a multi-value argument list.
type Tuple []Value

// Box packages an argument list into the standard pending-value form used by
// resume, transfer and yield so every switch site can unbox uniformly.
func Box(args ...Value) []Value { return args }

// Unbox collapses a pending value list the way callers observe it: no
// elements become Nil, a single element is returned bare, and anything
// larger is returned as a Tuple.
func Unbox(vals []Value) Value {
	switch len(vals) {
	case 0:
		return Nil
	case 1:
		return vals[0]
	default:
		return Tuple(vals)
	}
}

// Callable is a unit of managed code. The dispatch subsystem supplies the
// implementation; the core only invokes it and routes the result or the
// escaping error to whoever is waiting on the fiber or thread.
type Callable interface {
	Call(args ...Value) (Value, error)
}

// CallableFunc adapts a plain function to the Callable interface.
type CallableFunc func(args ...Value) (Value, error)

// Call invokes the wrapped function.
func (f CallableFunc) Call(args ...Value) (Value, error) { return f(args...) }
