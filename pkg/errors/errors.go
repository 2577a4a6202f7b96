// Unified error handling for the sensor hub
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Bus and protocol errors
	ErrBusBusy     ErrorCode = "BUS_BUSY"
	ErrBusOverflow ErrorCode = "BUS_OVERFLOW"
	ErrBusTransfer ErrorCode = "BUS_TRANSFER"
	ErrBusEmpty    ErrorCode = "BUS_EMPTY"
	ErrFifoCorrupt ErrorCode = "FIFO_CORRUPT"

	// Initialization errors
	ErrInitID     ErrorCode = "INIT_ID"
	ErrInitFailed ErrorCode = "INIT_FAILED"

	// Calibration and self-test
	ErrCalTimeout ErrorCode = "CAL_TIMEOUT"
	ErrCalBusy    ErrorCode = "CAL_BUSY"

	// Resources and conflicts
	ErrSlabExhausted ErrorCode = "SLAB_EXHAUSTED"
	ErrTaskBusy      ErrorCode = "TASK_BUSY"
	ErrInvalidRate   ErrorCode = "INVALID_RATE"
	ErrUnsupported   ErrorCode = "UNSUPPORTED"

	ErrRuntime ErrorCode = "RUNTIME"
)

// HostError is the unified error type for the sensor hub
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or the subsystem
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	var s string
	switch {
	case e.Option != "":
		s = fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	case e.Section != "":
		s = fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	default:
		s = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new HostError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *HostError {
	return New(code, fmt.Sprintf(format, args...))
}

// Config errors

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// Bus errors

// BusBusyError reports an operation attempted while a batch is in flight.
func BusBusyError(op string) *HostError {
	return New(ErrBusBusy, fmt.Sprintf("%s rejected: transaction in flight", op)).SetSection("bus")
}

// BusOverflowError reports a batch that would exceed the shared buffer or op table.
func BusOverflowError(what string, need, limit int) *HostError {
	return New(ErrBusOverflow, fmt.Sprintf("%s overflow: need %d, limit %d", what, need, limit)).
		SetSection("bus").
		SetContext("need", need).
		SetContext("limit", limit)
}

// BusTransferError wraps a driver failure.
func BusTransferError(err error) *HostError {
	return Wrap(err, ErrBusTransfer, "bus transfer failed").SetSection("bus")
}

// FifoCorruptError reports an unparseable FIFO header.
func FifoCorruptError(offset int, header byte) *HostError {
	return New(ErrFifoCorrupt, fmt.Sprintf("invalid frame header 0x%02x at %d", header, offset)).
		SetSection("fifo").
		SetContext("offset", offset)
}

// Task errors

// InitIDError reports a chip id mismatch.
func InitIDError(got, want byte, retriesLeft int) *HostError {
	return New(ErrInitID, fmt.Sprintf("chip id 0x%02x, want 0x%02x", got, want)).
		SetSection("init").
		SetContext("retries_left", retriesLeft)
}

// TaskBusyError reports a request refused because the task is not idle.
func TaskBusyError(op, state string) *HostError {
	return New(ErrTaskBusy, fmt.Sprintf("%s refused in state %s", op, state))
}

// InvalidRateError reports a rate the hardware cannot produce.
func InvalidRateError(channel string, rate uint32) *HostError {
	return New(ErrInvalidRate, fmt.Sprintf("unsupported rate %d for %s", rate, channel)).
		SetSection(channel)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// FromPanic converts a recovered panic value into a HostError.
//
//	defer func() {
//		if r := recover(); r != nil {
//			err = errors.FromPanic(r)
//		}
//	}()
func FromPanic(r interface{}) *HostError {
	switch x := r.(type) {
	case error:
		return Wrap(x, ErrRuntime, "panic")
	case string:
		return RuntimeError("panic: " + x)
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var he *HostError
	for err != nil {
		if !stderrors.As(err, &he) {
			return false
		}
		if he.Code == code {
			return true
		}
		err = he.Err
	}
	return false
}

// GetCode returns the code of the outermost HostError in err's chain.
func GetCode(err error) ErrorCode {
	var he *HostError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return ""
}

// IsBus reports bus-level failures.
func IsBus(err error) bool {
	switch GetCode(err) {
	case ErrBusBusy, ErrBusOverflow, ErrBusTransfer, ErrBusEmpty:
		return true
	}
	return false
}

// IsBusy reports conflicts that the caller may retry later.
func IsBusy(err error) bool {
	switch GetCode(err) {
	case ErrBusBusy, ErrTaskBusy, ErrCalBusy:
		return true
	}
	return false
}

// IsConfig reports configuration errors.
func IsConfig(err error) bool {
	switch GetCode(err) {
	case ErrConfigSection, ErrConfigOption, ErrConfigValidation:
		return true
	}
	return false
}
