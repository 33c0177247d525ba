package shell

import (
	"fmt"

	"golang.org/x/text/encoding/htmlindex"
)

// decode converts s from the named encoding to UTF-8. An empty name
// returns s unchanged.
func decode(s, encoding string) (string, error) {
	if encoding == "" {
		return s, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return s, fmt.Errorf("output encoding %q: %w", encoding, err)
	}
	out, err := enc.NewDecoder().String(s)
	if err != nil {
		return s, fmt.Errorf("decode %s: %w", encoding, err)
	}
	return out, nil
}
