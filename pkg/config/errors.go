// Package config loads the sensorhub YAML configuration, applies
// environment and flag overrides, and validates the result.
package config

import "fmt"

// ConfigError reports a problem with one configuration key. Section and
// Option name the YAML path; either may be empty for file-level errors.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

// Key returns the dotted key, the form used by SENSORHUB_ variables after
// upper-casing and replacing dots.
func (e *ConfigError) Key() string {
	switch {
	case e.Section == "":
		return e.Option
	case e.Option == "":
		return e.Section
	}
	return e.Section + "." + e.Option
}

func (e *ConfigError) Error() string {
	if k := e.Key(); k != "" {
		return "config " + k + ": " + e.Message
	}
	return "config: " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// WrapError attaches a key to a load or decode error.
func WrapError(section, option string, err error) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: err.Error(), Cause: err}
}

// ErrMissingOption reports a required key left empty.
func ErrMissingOption(section, option string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: "must be set"}
}

// ErrOutOfRange reports a numeric value outside its bounds.
func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: fmt.Sprintf("%v %s", value, constraint)}
}

// ErrInvalidChoice reports a value outside an enumeration.
func ErrInvalidChoice(section, option, value string, choices []string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: fmt.Sprintf("%q is not one of %v", value, choices)}
}
