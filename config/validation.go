package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/stratusworks/fsmux/fs"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Backends.Local.Enabled && cfg.Backends.Local.Base == "" {
		return fmt.Errorf("backends.local: base directory is required when enabled")
	}

	if cfg.Mux.DefaultURI != "" {
		p, err := fs.ParsePath(cfg.Mux.DefaultURI)
		if err != nil {
			return fmt.Errorf("mux.default_uri: %w", err)
		}
		if p.Scheme == "" {
			return fmt.Errorf("mux.default_uri: %q has no scheme", cfg.Mux.DefaultURI)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
