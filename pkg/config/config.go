// Package config loads the card configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

var validate = validator.New()

// Load reads and parses the card config at path.
func Load(path string) (types.CardConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.CardConfig{}, fmt.Errorf("failed to read card config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return types.CardConfig{}, fmt.Errorf("invalid card config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML card config, migrates it to the current version and
// validates it. Unknown keys are rejected.
func Parse(b []byte) (types.CardConfig, error) {
	var cfg types.CardConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return types.CardConfig{}, fmt.Errorf("failed to decode yaml: %w", err)
	}
	return Normalize(cfg)
}

// Normalize migrates and validates a config that was built in code or decoded
// from another format.
func Normalize(cfg types.CardConfig) (types.CardConfig, error) {
	cfg, _, err := types.MigrateConfig(cfg)
	if err != nil {
		return types.CardConfig{}, err
	}
	cfg = types.ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return types.CardConfig{}, err
	}
	return cfg, nil
}

// Validate checks the struct constraints of the config. Tree constraints
// (parents, cycles) are checked when the graph is built.
func Validate(cfg types.CardConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := strings.TrimPrefix(e.Namespace(), "CardConfig.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of %s", field, e.Param()))
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s", field, e.Param()))
		case "unique":
			msgs = append(msgs, fmt.Sprintf("%s: %s must be unique", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
