package catalog

import "fmt"

// Reason identifies which configuration rule was broken.
type Reason string

const (
	ReasonNoProviders      Reason = "no_providers"
	ReasonInvalidJSON      Reason = "invalid_json"
	ReasonNotArray         Reason = "not_array"
	ReasonMissingProvider  Reason = "missing_provider"
	ReasonUnknownProvider  Reason = "unknown_provider"
	ReasonInvalidModel     Reason = "invalid_model"
	ReasonNoModels         Reason = "no_models"
	ReasonDuplicateID      Reason = "duplicate_id"
	ReasonNoDefault        Reason = "no_default"
	ReasonMultipleDefaults Reason = "multiple_defaults"
)

// ConfigurationError reports a model configuration that cannot be served.
// Hint tells an operator how to fix it.
type ConfigurationError struct {
	Reason  Reason
	Source  string
	Message string
	Hint    string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "model configuration: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configError(reason Reason, source, message, hint string, err error) *ConfigurationError {
	return &ConfigurationError{
		Reason:  reason,
		Source:  source,
		Message: message,
		Hint:    hint,
		Err:     err,
	}
}
