package errors

import "fmt"

// ConfigurationError means required configuration is missing or unusable.
// The process must not serve requests when startup returns one.
type ConfigurationError struct {
	ErrorMsg string
	Err      error
}

func (m *ConfigurationError) Error() string {
	return format("configuration error", m.ErrorMsg, m.Err)
}

func (m *ConfigurationError) Unwrap() error {
	return m.Err
}

// ModelLoadError means the serialized model could not be turned into a session.
type ModelLoadError struct {
	ErrorMsg string
	Err      error
}

func (m *ModelLoadError) Error() string {
	return format("model load error", m.ErrorMsg, m.Err)
}

func (m *ModelLoadError) Unwrap() error {
	return m.Err
}

// NotFoundError is returned when a serialized source is missing or malformed.
type NotFoundError struct {
	ErrorMsg string
	Err      error
}

func (m *NotFoundError) Error() string {
	return format("not found", m.ErrorMsg, m.Err)
}

func (m *NotFoundError) Unwrap() error {
	return m.Err
}

// KeyNotFoundError is returned when a class index has no label.
type KeyNotFoundError struct {
	Index int
}

func (m *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: no label for class index %d", m.Index)
}

type InferenceError struct {
	ErrorMsg string
	Err      error
}

func (m *InferenceError) Error() string {
	return format("inference error", m.ErrorMsg, m.Err)
}

func (m *InferenceError) Unwrap() error {
	return m.Err
}

// AdvisoryServiceError wraps any failure of the generative text service:
// network, auth, quota or a response without text.
type AdvisoryServiceError struct {
	ErrorMsg string
	Err      error
}

func (m *AdvisoryServiceError) Error() string {
	return format("advisory service error", m.ErrorMsg, m.Err)
}

func (m *AdvisoryServiceError) Unwrap() error {
	return m.Err
}

func format(kind, msg string, err error) string {
	switch {
	case msg != "" && err != nil:
		return fmt.Sprintf("%s: %s: %v", kind, msg, err)
	case err != nil:
		return fmt.Sprintf("%s: %v", kind, err)
	case msg != "":
		return fmt.Sprintf("%s: %s", kind, msg)
	default:
		return kind
	}
}
