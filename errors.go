package colstore

import "fmt"

// UnsupportedSourceError is returned when a [SourceDescriptor] does not
// resolve to a byte source. No stream registration exists when it is returned.
type UnsupportedSourceError struct {
	Source SourceDescriptor
	Reason string
	Err    error
}

func (e *UnsupportedSourceError) Error() string {
	msg := fmt.Sprintf("unsupported %s source: %s", e.Source.Type, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnsupportedSourceError) Unwrap() error {
	return e.Err
}

// NewUnsupportedSourceError returns an [UnsupportedSourceError] for src
func NewUnsupportedSourceError(src SourceDescriptor, reason string, err error) *UnsupportedSourceError {
	return &UnsupportedSourceError{Source: src, Reason: reason, Err: err}
}
