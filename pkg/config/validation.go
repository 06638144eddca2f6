package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Principals must parse
	if _, err := cfg.Identity.ServicePrincipal(); err != nil {
		return err
	}
	if _, err := cfg.Identity.TrustedPrincipals(); err != nil {
		return err
	}

	// Persistent snapshot storage needs a location
	if cfg.Snapshots.Type != "memory" && cfg.Snapshots.Path == "" {
		return fmt.Errorf("snapshots: path is required for type %q", cfg.Snapshots.Type)
	}

	// Two BadgerDB instances cannot share a directory
	if cfg.Snapshots.Type == "badger" && cfg.Shards.Backend.Type == "badger" {
		var badgerCfg struct {
			DBPath   string `mapstructure:"db_path"`
			InMemory bool   `mapstructure:"in_memory"`
		}
		if err := mapstructure.Decode(cfg.Shards.Backend.Badger, &badgerCfg); err != nil {
			return fmt.Errorf("shards.backend.badger: %w", err)
		}
		if !badgerCfg.InMemory && filepath.Clean(badgerCfg.DBPath) == filepath.Clean(cfg.Snapshots.Path) {
			return fmt.Errorf("snapshots.path and shards.backend.badger.db_path must differ (both %q)", cfg.Snapshots.Path)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
