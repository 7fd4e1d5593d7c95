package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// KeyValidationConfig bounds the cache keys a caller may use.
type KeyValidationConfig struct {
	ReservedPatterns []string
	MaxKeyLength     int
	AllowWhitespace  bool
}

// DefaultKeyValidationConfig allows keys up to 512 bytes with no whitespace.
func DefaultKeyValidationConfig() KeyValidationConfig {
	return KeyValidationConfig{MaxKeyLength: 512}
}

// KeyValidator checks cache keys before they reach the store. Keys built by
// RequestKey ("GET:/path?query") always pass the default rules.
type KeyValidator struct {
	config KeyValidationConfig
}

func NewKeyValidator(config KeyValidationConfig) *KeyValidator {
	return &KeyValidator{config: config}
}

func invalidKey(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidKey}, args...)...)
}

// Validate returns an error wrapping ErrInvalidKey when key breaks a rule.
func (v *KeyValidator) Validate(key string) error {
	switch {
	case key == "":
		return invalidKey("empty key")
	case v.config.MaxKeyLength > 0 && len(key) > v.config.MaxKeyLength:
		return invalidKey("%d bytes exceeds maximum %d", len(key), v.config.MaxKeyLength)
	case !utf8.ValidString(key):
		return invalidKey("not valid UTF-8")
	}

	for pos, r := range key {
		if unicode.IsControl(r) {
			return invalidKey("control character %U at byte %d", r, pos)
		}
		if unicode.IsSpace(r) && !v.config.AllowWhitespace {
			return invalidKey("whitespace at byte %d", pos)
		}
	}

	for _, reserved := range v.config.ReservedPatterns {
		if reserved != "" && strings.Contains(key, reserved) {
			return invalidKey("reserved sequence %q", reserved)
		}
	}
	return nil
}

var defaultKeyValidator = NewKeyValidator(DefaultKeyValidationConfig())

// ValidateKey applies the default rules.
func ValidateKey(key string) error {
	return defaultKeyValidator.Validate(key)
}

func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}
