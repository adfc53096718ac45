package logging

import "strings"

// Redacted replaces the value of any attribute whose key names secret
// material.
const Redacted = "[REDACTED]"

var secretKeys = map[string]struct{}{
	"pin":         {},
	"new_pin":     {},
	"otp":         {},
	"code":        {},
	"key":         {},
	"password":    {},
	"secret":      {},
	"token":       {},
	"private_key": {},
}

// redact returns args with secret values masked. The input is not modified.
func redact(args []any) []any {
	var out []any
	for i := 0; i+1 < len(args); i += 2 {
		k, ok := args[i].(string)
		if !ok {
			continue
		}
		if _, secret := secretKeys[strings.ToLower(k)]; !secret {
			continue
		}
		if out == nil {
			out = append([]any(nil), args...)
		}
		out[i+1] = Redacted
	}
	if out == nil {
		return args
	}
	return out
}
