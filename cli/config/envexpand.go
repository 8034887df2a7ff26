// Package config loads the YAML run configuration for tsrebuild.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// MissingEnvError reports a ${VAR:?message} reference whose variable is
// unset or empty.
type MissingEnvError struct {
	Name    string
	Message string
}

func (e *MissingEnvError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment variable %s is required", e.Name)
	}
	return fmt.Sprintf("environment variable %s is required: %s", e.Name, e.Message)
}

// ExpandEnv substitutes environment references in input.
//
//	${VAR}           value of VAR, empty when unset
//	${VAR:-default}  value of VAR, or default when unset or empty
//	${VAR:?message}  value of VAR, or a MissingEnvError when unset or empty
//
// Every missing required variable is reported, joined into one error.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value := os.Getenv(name); value != "" {
			return value
		}
		switch op {
		case "-":
			return arg
		case "?":
			errs = append(errs, &MissingEnvError{Name: name, Message: arg})
		}
		return ""
	})
	return out, errors.Join(errs...)
}
