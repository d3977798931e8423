// Package secret holds sensitive configuration values, such as storage
// credentials and API keys, that must never be written to logs or traces.
package secret

import (
	"fmt"
	"io"
)

const redacted = "REDACTED"

// String hides its value from every fmt verb and from text and JSON encoding.
// Use Raw to get at the value.
type String string

func (s String) Raw() string {
	return string(s)
}

// IsSet reports whether the value is non-empty, without revealing it.
func (s String) IsSet() bool {
	return s != ""
}

func (s String) String() string {
	return redacted
}

func (s String) GoString() string {
	return redacted
}

func (s String) Format(f fmt.State, verb rune) {
	if verb == 'q' {
		_, _ = fmt.Fprintf(f, "%q", redacted)
		return
	}
	_, _ = io.WriteString(f, redacted)
}

func (s String) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
