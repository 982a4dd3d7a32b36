package config

import "fmt"

// ConfigParseError wraps a YAML syntax failure.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("parsing config %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// ConfigSchemaError wraps a structural decode failure: unknown top-level
// keys, missing required keys, or a step whose shape doesn't match either
// variant.
type ConfigSchemaError struct {
	Detail string
}

func (e *ConfigSchemaError) Error() string {
	return fmt.Sprintf("invalid config schema: %s", e.Detail)
}

// NameCollisionError reports a normalized-name collision: two step names
// colliding within a stage, two stage names colliding within a workflow,
// or CORE SPEC §9's explicit rejection of a step name reused across stages.
type NameCollisionError struct {
	Scope string // "stage" or "workflow"
	Name  string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name collision in %s: %q is used more than once after normalization", e.Scope, e.Name)
}

// MissingFileError reports that a step's executable or dependency file
// does not exist in the fetched source tree.
type MissingFileError struct {
	Step string
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("step %q: file not found: %s", e.Step, e.Path)
}

// SecretNotFoundError reports a step referencing a secret absent from the
// caller-supplied set of known secrets in the target namespace.
type SecretNotFoundError struct {
	Step   string
	Secret string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("step %q: referenced secret %q not found in namespace", e.Step, e.Secret)
}

// InvariantError reports a violated field-level invariant (CORE SPEC §3).
type InvariantError struct {
	Step   string
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("invalid config: %s", e.Detail)
	}
	return fmt.Sprintf("step %q: %s", e.Step, e.Detail)
}
