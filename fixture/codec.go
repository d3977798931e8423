package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode writes entries as an indented JSON array with sorted keys and a
// trailing newline. Characters such as < and & are written as is.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	normalised := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Response.Headers == nil {
			e.Response.Headers = map[string]string{}
		}
		if e.Response.Body == nil {
			e.Response.Body = []byte{}
		}
		normalised[i] = e
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(normalised); err != nil {
		return nil, fmt.Errorf("encode fixture: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads the persisted form written by Encode. An empty document is an
// empty fixture.
func Decode(b []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	for i := range entries {
		if entries[i].Response.Headers == nil {
			entries[i].Response.Headers = map[string]string{}
		}
	}
	return entries, nil
}
