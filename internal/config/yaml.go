package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// IsYAML reports whether name has a YAML extension.
func IsYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ToJSON returns b as JSON. YAML input (by file extension) is decoded
// generically and re-encoded; anything else is returned trimmed.
func ToJSON(name string, b []byte) ([]byte, error) {
	if !IsYAML(name) {
		return bytes.TrimSpace(b), nil
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%s: yaml: %w", filepath.Base(name), err)
	}
	out, err := json.Marshal(jsonable(doc))
	if err != nil {
		return nil, fmt.Errorf("%s: yaml to json: %w", filepath.Base(name), err)
	}
	return out, nil
}

// DecodeStrict decodes a JSON or YAML document into dst. Unknown fields and
// anything after the first document are errors, so a typo in a key fails
// loudly instead of silently keeping a default.
func DecodeStrict(name string, b []byte, dst any) error {
	jb, err := ToJSON(name, b)
	if err != nil {
		return err
	}
	if len(jb) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return fmt.Errorf("%s: unexpected data after the document", filepath.Base(name))
	default:
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
}

// jsonable rewrites YAML mappings with non-string keys (e.g. `1: x`) into
// string-keyed maps json.Marshal accepts.
func jsonable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = jsonable(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = jsonable(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = jsonable(e)
		}
		return t
	}
	return v
}
