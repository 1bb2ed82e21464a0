// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrUnknownField is returned when an update names a field outside the schema
	ErrUnknownField = errors.New("unknown field")
	// ErrValueOutOfDomain is returned when a value is not one of the field's enumerated values
	ErrValueOutOfDomain = errors.New("value outside field domain")
)

const fieldUpdatesSchemaURL = "https://overedit.local/schemas/field-updates.json"

// FieldDomain is one editable field and its closed set of values.
type FieldDomain struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values" json:"values"`
}

// FieldSchema describes the editable fields of a record. The meaning of the
// values is opaque here; only membership is checked.
type FieldSchema struct {
	domains []FieldDomain
	index   map[string]map[string]struct{}
	updates *jsonschema.Schema
}

// NewFieldSchema builds a schema from field domains and compiles the JSON
// Schema used to validate write payloads.
func NewFieldSchema(domains ...FieldDomain) (*FieldSchema, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("field schema requires at least one field")
	}
	s := &FieldSchema{index: make(map[string]map[string]struct{}, len(domains))}
	for _, d := range domains {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("field name must not be empty")
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		if len(d.Values) == 0 {
			return nil, fmt.Errorf("field %q has an empty domain", name)
		}
		set := make(map[string]struct{}, len(d.Values))
		for _, v := range d.Values {
			set[v] = struct{}{}
		}
		s.index[name] = set
		s.domains = append(s.domains, FieldDomain{Name: name, Values: append([]string(nil), d.Values...)})
	}

	compiled, err := s.compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile field schema: %w", err)
	}
	s.updates = compiled
	return s, nil
}

// MustFieldSchema is like NewFieldSchema but panics on error.
func MustFieldSchema(domains ...FieldDomain) *FieldSchema {
	s, err := NewFieldSchema(domains...)
	if err != nil {
		panic(err)
	}
	return s
}

// TriageFieldSchema returns the default email-triage fields.
func TriageFieldSchema() *FieldSchema {
	return MustFieldSchema(
		FieldDomain{Name: "category", Values: []string{"WORK", "HOME", "TRAVEL", "FINANCE", "PROMOTIONS", "OTHER"}},
		FieldDomain{Name: "urgency", Values: []string{"LOW", "MEDIUM", "HIGH"}},
		FieldDomain{Name: "action", Values: []string{"NONE", "REPLY", "ARCHIVE", "CALENDAR", "FORWARD"}},
	)
}

// Names returns field names in declaration order.
func (s *FieldSchema) Names() []string {
	names := make([]string, len(s.domains))
	for i, d := range s.domains {
		names[i] = d.Name
	}
	return names
}

// Domains returns a copy of the field domains.
func (s *FieldSchema) Domains() []FieldDomain {
	out := make([]FieldDomain, len(s.domains))
	for i, d := range s.domains {
		out[i] = FieldDomain{Name: d.Name, Values: append([]string(nil), d.Values...)}
	}
	return out
}

// Has reports whether name is an editable field.
func (s *FieldSchema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Check validates a single field assignment.
func (s *FieldSchema) Check(name, value string) error {
	set, ok := s.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if _, ok := set[value]; !ok {
		return fmt.Errorf("%w: %s=%q", ErrValueOutOfDomain, name, value)
	}
	return nil
}

// CheckAll validates every assignment in values, reporting fields in sorted order.
func (s *FieldSchema) CheckAll(values Values) error {
	for _, k := range values.Keys() {
		if err := s.Check(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUpdates runs the compiled JSON Schema against a field_updates object.
func (s *FieldSchema) ValidateUpdates(updates Values) error {
	raw, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("failed to marshal field updates: %w", err)
	}
	return s.ValidateUpdatesJSON(raw)
}

// ValidateUpdatesJSON validates a raw field_updates document.
func (s *FieldSchema) ValidateUpdatesJSON(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse field updates: %w", err)
	}
	if err := s.updates.Validate(inst); err != nil {
		return fmt.Errorf("field updates rejected: %w", err)
	}
	return nil
}

// JSONSchema returns the JSON Schema document for a field_updates object.
func (s *FieldSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.domains))
	for _, d := range s.domains {
		props[d.Name] = map[string]any{
			"type": "string",
			"enum": d.Values,
		}
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"minProperties":        1,
		"additionalProperties": false,
		"properties":           props,
	}
}

func (s *FieldSchema) compile() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(fieldUpdatesSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(fieldUpdatesSchemaURL)
}
