package prompt

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("model reply contains no JSON object")

// Decode extracts the first JSON object from a model reply and unmarshals it into v.
// Code fences and leading/trailing prose are tolerated.
func Decode(reply string, v any) error {
	obj, err := ExtractObject(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(obj), v)
}

// ExtractObject returns the first complete JSON object in the reply. Braces in
// prose before or after it are skipped.
func ExtractObject(reply string) (string, error) {
	for i := strings.IndexByte(reply, '{'); i >= 0; {
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(reply[i:])).Decode(&obj); err == nil && obj[0] == '{' {
			return string(obj), nil
		}
		next := strings.IndexByte(reply[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", ErrNoJSON
}

// Text is a lenient string field: models sometimes answer numbers, booleans or null
// where prose was requested. Non-string scalars keep their JSON spelling; null is "".
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*t = Text(strings.TrimSpace(str))
		return nil
	}
	*t = Text(s)
	return nil
}

// String returns the plain text.
func (t Text) String() string { return string(t) }
