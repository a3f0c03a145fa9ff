package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies a pipeline stage in errors, logs, and metrics.
type Stage string

const (
	StageClassify  Stage = "classify"
	StageSplit     Stage = "split"
	StageTransform Stage = "transform"
	StageUnified   Stage = "unified"
)

// ProtocolError reports that the oracle answered, but the answer violates the
// stage's reply contract: no decodable JSON, a wrong-length array, an unknown
// label, an empty split part, an index out of range. Protocol violations are
// never coerced into data; the affected batch aborts and the error says which
// stage tripped.
//
// The transport call itself succeeded, so retrying at the transport layer
// does not apply.
type ProtocolError struct {
	Stage  Stage
	Detail string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: oracle reply: %s: %v", e.Stage, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: oracle reply: %s", e.Stage, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// protocolErr builds a *ProtocolError with a formatted detail message.
func protocolErr(stage Stage, cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Stage:  stage,
		Detail: fmt.Sprintf(format, args...),
		Cause:  cause,
	}
}

// IsProtocol reports whether err is or wraps a [ProtocolError].
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
