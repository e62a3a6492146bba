package daemon

import (
	"errors"
	"fmt"

	"devlink/daemon/internal/proto"
)

// ToolExit is a recognized clean-abort condition raised by run engines. At
// the protocol boundary it is reduced to just its message: the exit code
// and any trace are dropped before transmission.
type ToolExit struct {
	Message string
	Code    int
}

func (e *ToolExit) Error() string { return e.Message }

// Exitf builds a ToolExit with a formatted message.
func Exitf(code int, format string, args ...any) *ToolExit {
	return &ToolExit{Message: fmt.Sprintf(format, args...), Code: code}
}

// errorValue normalizes a failure for transmission. Unrecognized values are
// coerced to a printable string.
func errorValue(err error, trace string) proto.ErrorValue {
	var te *ToolExit
	if errors.As(err, &te) {
		return proto.ErrorValue{Message: te.Message}
	}
	return proto.ErrorValue{Message: err.Error(), StackTrace: trace}
}

// panicValue turns a recovered panic into an error.
func panicValue(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}
