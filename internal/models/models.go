package models

import (
	"os"
	"strings"
)

// Conversation roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string
	Content string
}

// Completion captures a single-shot provider response in the unified schema.
type Completion struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
}

// Delta is one incremental fragment delivered by a provider stream.
// Usage is set on the fragment that carries token accounting, which may have
// no text at all.
type Delta struct {
	Content string
	Usage   *Usage
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Total returns TotalTokens, falling back to the sum of its parts.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// ModelDescriptor identifies a selectable model and the provider serving it.
type ModelDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Provider    string `json:"provider" yaml:"provider"`
	Default     bool   `json:"default" yaml:"default"`
}

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// EnvLookup is the process environment.
var EnvLookup LookupFunc = os.LookupEnv

// ProviderDescriptor describes one vendor integration and where its
// credential and legacy model list live in the environment.
type ProviderDescriptor struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	ModelsEnv string `json:"models_env" yaml:"models_env"`
}

// IsEnabled reports whether the credential variable holds a non-blank value.
func (d ProviderDescriptor) IsEnabled(lookup LookupFunc) bool {
	return Credential(lookup, d.APIKeyEnv) != ""
}

// Credential returns the trimmed value of key, or "" when unset.
func Credential(lookup LookupFunc, key string) string {
	if lookup == nil {
		lookup = EnvLookup
	}
	if key == "" {
		return ""
	}
	value, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
