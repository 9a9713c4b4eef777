package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedPayload is returned when exam data is not a well-formed JSON document.
var ErrMalformedPayload = errors.New("malformed exam data payload")

// ExamData is an opaque exam-state document stored in canonical JSON text.
// The zero value is the empty payload.
type ExamData struct {
	text string
}

// ParseExamData validates raw and returns it in canonical form: compact, with
// object keys sorted and numbers kept verbatim.
func ParseExamData(raw []byte) (ExamData, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return ExamData{}, err
	}
	return ExamDataFromDocument(doc)
}

// ExamDataFromDocument serializes an already decoded document.
func ExamDataFromDocument(doc interface{}) (ExamData, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return ExamData{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return ExamData{text: string(bytes.TrimRight(buf.Bytes(), "\n"))}, nil
}

// ParamsDocument folds request parameter sets into one object: a key with a
// single value maps to a string, a repeated key to an array. Later sets win.
func ParamsDocument(sets ...map[string][]string) map[string]interface{} {
	doc := make(map[string]interface{})
	for _, set := range sets {
		for k, vs := range set {
			switch len(vs) {
			case 0:
			case 1:
				doc[k] = vs[0]
			default:
				doc[k] = append([]string(nil), vs...)
			}
		}
	}
	return doc
}

// MergeExamParams parses raw and adds params to it. Parameters are only merged
// into an object document, and keys present in raw take precedence. An empty
// raw yields the parameters alone.
func MergeExamParams(raw []byte, params map[string][]string) (ExamData, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ExamDataFromDocument(ParamsDocument(params))
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return ExamData{}, err
	}
	if obj, ok := doc.(map[string]interface{}); ok {
		for k, v := range ParamsDocument(params) {
			if _, exists := obj[k]; !exists {
				obj[k] = v
			}
		}
	}
	return ExamDataFromDocument(doc)
}

func decodeDocument(raw []byte) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedPayload)
	}
	return doc, nil
}

// IsEmpty reports whether no payload is attached.
func (d ExamData) IsEmpty() bool { return d.text == "" }

// String returns the canonical JSON text, or "" when empty.
func (d ExamData) String() string { return d.text }

// Document parses the payload back into generic JSON values. Numbers come back
// as json.Number.
func (d ExamData) Document() (interface{}, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	return decodeDocument([]byte(d.text))
}

// MarshalJSON exposes the payload as its JSON text (a string), or null.
func (d ExamData) MarshalJSON() ([]byte, error) {
	if d.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(d.text)
}

// UnmarshalJSON accepts null, a string holding a JSON document, or an inline
// JSON document.
func (d *ExamData) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte("null")) {
		*d = ExamData{}
		return nil
	}

	raw := trimmed
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s == "" {
			*d = ExamData{}
			return nil
		}
		raw = []byte(s)
	}

	parsed, err := ParseExamData(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for TEXT/JSONB columns.
func (d *ExamData) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ExamData{}
		return nil
	case string:
		d.text = v
		return nil
	case []byte:
		d.text = string(v)
		return nil
	default:
		return fmt.Errorf("scan exam data: unsupported type %T", src)
	}
}

// Value implements driver.Valuer; the empty payload is stored as NULL.
func (d ExamData) Value() (driver.Value, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	return d.text, nil
}
