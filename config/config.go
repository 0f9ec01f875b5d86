// Package config loads the scheduler's YAML configuration, following the
// teacher's common/config.Parse pattern: gopkg.in/yaml.v2 for unmarshaling,
// gopkg.in/validator.v2 for declarative field validation, multiple files
// merged in order.
package config

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable named in SPEC_FULL.md §6. Priority mapping from
// SLA class is intentionally absent here: it is a structural invariant of
// SLA semantics (runtime.PriorityForSLA), not an operator tunable.
type Config struct {
	MinActiveMachines int     `yaml:"min_active_machines" validate:"min=0"`
	MaxUtilization    float64 `yaml:"max_utilization" validate:"min=0"`
	VMOverheadMB      int64   `yaml:"vm_overhead_mb" validate:"min=0"`
	PolicyVariant     string  `yaml:"policy_variant" validate:"nonzero"`
	Metrics           MetricsConfig `yaml:"metrics"`
}

// MetricsConfig selects the tally reporter backend (see the metrics
// package).
type MetricsConfig struct {
	Backend  string `yaml:"backend" validate:"nonzero"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration's documented defaults (SPEC_FULL.md §6).
func Default() Config {
	return Config{
		MinActiveMachines: 16,
		MaxUtilization:    1.0,
		VMOverheadMB:      0,
		PolicyVariant:     "greedy",
		Metrics:           MetricsConfig{Backend: "noop"},
	}
}

// ValidationError wraps a validator.v2 field-error map the way the teacher's
// common/config.ValidationError does.
type ValidationError struct {
	errorMap validator.ErrorMap
}

// ErrForField returns the validation error for the given field, if any.
func (e ValidationError) ErrForField(name string) error {
	return e.errorMap[name]
}

// Error implements error.
func (e ValidationError) Error() string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "validation failed")
	for f, err := range e.errorMap {
		fmt.Fprintf(&w, "   %s: %v\n", f, err)
	}
	return w.String()
}

// Parse loads and merges the given YAML files onto Default(), validating the
// result.
func Parse(configFiles ...string) (Config, error) {
	cfg := Default()
	if len(configFiles) == 0 {
		return cfg, errors.New("no config files to load")
	}
	for _, fname := range configFiles {
		data, err := ioutil.ReadFile(fname)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config file %s", fname)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config file %s", fname)
		}
	}
	if err := validator.Validate(cfg); err != nil {
		if errMap, ok := err.(validator.ErrorMap); ok {
			return cfg, ValidationError{errorMap: errMap}
		}
		return cfg, err
	}
	return cfg, nil
}
