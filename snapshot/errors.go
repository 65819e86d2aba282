package snapshot

import "github.com/c360/cachescope/querycache"

// namedError lets an error choose the name shown by the inspector.
type namedError interface {
	Name() string
}

func errorValue(err error) *ErrorValue {
	if err == nil {
		return nil
	}
	name := "Error"
	if n, ok := err.(namedError); ok {
		name = n.Name()
	} else if querycache.IsCancelled(err) {
		name = "CancelledError"
	}
	return &ErrorValue{Name: name, Message: err.Error()}
}
