package pipeline

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindCaller covers missing, oversized or malformed input.
	KindCaller Kind = iota + 1
	// KindProcessing covers segmentation failures and undecodable images.
	KindProcessing
	// KindInternal means a broken invariant inside the pipeline.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindCaller:
		return "caller"
	case KindProcessing:
		return "processing"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code is the machine-checkable reason sent to clients.
type Code string

const (
	NoImageProvided           Code = "NoImageProvided"
	FileTooLarge              Code = "FileTooLarge"
	ImageTooLarge             Code = "ImageTooLarge"
	InvalidRequestBody        Code = "InvalidRequestBody"
	NoForegroundProvided      Code = "NoForegroundProvided"
	InvalidForegroundFormat   Code = "InvalidForegroundFormat"
	InvalidColorFormat        Code = "InvalidColorFormat"
	InvalidBackgroundFormat   Code = "InvalidBackgroundFormat"
	NoBackgroundSpecProvided  Code = "NoBackgroundSpecProvided"
	ConflictingBackgroundSpec Code = "ConflictingBackgroundSpec"
	UndecodableImage          Code = "UndecodableImage"
	SegmentationFailed        Code = "SegmentationFailed"
	InternalError             Code = "InternalError"
)

// Error is the only error type the pipeline returns.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so callers can write
// errors.Is(err, &pipeline.Error{Code: pipeline.FileTooLarge}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func callerError(code Code, msg string, err error) *Error {
	return &Error{Kind: KindCaller, Code: code, Message: msg, Err: err}
}

func processingError(code Code, msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Code: code, Message: msg, Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Code: InternalError, Message: "internal error", Err: err}
}

// AsError extracts the pipeline error from err, classifying anything else as
// internal.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return internalError(err)
}
