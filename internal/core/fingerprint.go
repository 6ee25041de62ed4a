package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Arguments are the key/value parameters passed to a target on every run.
type Arguments map[string]any

// Clone returns a shallow copy that is never nil.
func (a Arguments) Clone() Arguments {
	out := make(Arguments, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the argument value for key when it is a string.
func (a Arguments) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Fingerprint returns a deterministic digest of the arguments. Map keys are
// serialized in sorted order, so equal argument sets always produce equal digests.
func Fingerprint(args Arguments) (string, error) {
	if args == nil {
		args = Arguments{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DeclaredKey is the stable identifier of a declared task, derived from its target.
func DeclaredKey(target string) string {
	sum := sha256.Sum256([]byte(target))
	return hex.EncodeToString(sum[:16])
}
