package types

import (
	"encoding/json"
	"log/slog"
)

const redacted = "[REDACTED]"

// SecretString holds a token or password. Every rendering path (fmt, JSON,
// slog) prints a placeholder; only Value returns the raw string.
type SecretString struct {
	value string
}

func NewSecretString(value string) SecretString {
	return SecretString{value: value}
}

func (s SecretString) Value() string {
	return s.value
}

func (s SecretString) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the raw field.
func (s SecretString) GoString() string {
	return s.String()
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SecretString) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	s.value = value
	return nil
}

func (s SecretString) IsEmpty() bool {
	return s.value == ""
}

// Equal compares the underlying values.
func (s SecretString) Equal(other SecretString) bool {
	return s.value == other.value
}
