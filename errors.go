package apisec

import "errors"

var (
	// ErrGeneration indicates the entropy source failed while generating a key.
	ErrGeneration = errors.New("credential generation failed")
	// ErrStorage indicates the backing store was unavailable; the key must not
	// be treated as stored.
	ErrStorage = errors.New("credential storage unavailable")
	// ErrValidation indicates malformed input (unknown kind, empty owner, bad enum).
	ErrValidation = errors.New("invalid input")
	// ErrNotFound indicates an unknown key or threat on revoke/resolve.
	ErrNotFound = errors.New("not found")
	// ErrRuleInvalid indicates a threat rule failed validation at load time.
	ErrRuleInvalid = errors.New("invalid security rule")
	// ErrBuilderUsed indicates a second Build call on a single-use builder.
	ErrBuilderUsed = errors.New("builder already used")
)
