package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newObjectValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func checkDest(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("GenerateObject: dest must be a non-nil pointer, got %T", dest)
	}
	return nil
}

// extractJSON returns the first JSON object in a model reply. Markdown code
// fences and leading or trailing prose are tolerated.
func extractJSON(content string) ([]byte, error) {
	text := strings.TrimSpace(content)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		if strings.Contains(rest, "{") {
			text = rest
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in reply: %w", ErrInvalidObject)
	}
	var raw json.RawMessage
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed JSON object (%v): %w", err, ErrInvalidObject)
	}
	return raw, nil
}

// decodeObject decodes into a fresh value and only assigns dest on success, so
// a failed first attempt leaves nothing behind for the fallback.
func decodeObject(v *validator.Validate, content string, dest any) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}
	target := reflect.ValueOf(dest).Elem()
	fresh := reflect.New(target.Type())

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(fresh.Interface()); err != nil {
		return fmt.Errorf("object does not match schema (%v): %w", err, ErrInvalidObject)
	}

	check := fresh
	for check.Kind() == reflect.Pointer {
		check = check.Elem()
	}
	if check.Kind() == reflect.Struct {
		if err := v.Struct(fresh.Interface()); err != nil {
			return fmt.Errorf("object failed validation (%v): %w", err, ErrInvalidObject)
		}
	}
	target.Set(fresh.Elem())
	return nil
}
