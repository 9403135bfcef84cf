package types

import (
	"encoding/json"
	"fmt"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeNull    SchemaType = "null"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
)

// JSONSchema represents a JSON Schema definition, used both for tool
// parameter schemas and for argument-coercion hints in internal/codec.
type JSONSchema struct {
	Schema      string `json:"$schema,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	Default any `json:"default,omitempty"`
}

func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeObject, Properties: make(map[string]*JSONSchema)}
}

func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: SchemaTypeArray, Items: items}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: SchemaTypeString} }
func NewNumberSchema() *JSONSchema  { return &JSONSchema{Type: SchemaTypeNumber} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: SchemaTypeInteger} }
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: SchemaTypeBoolean} }

func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Enum: values}
}

func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal json schema: %w", err)
	}
	return &schema, nil
}

// StripMeta returns a copy of the schema with the $schema keyword removed,
// recursively. Some upstream vendors reject tool schemas carrying a $schema
// field; the Anthropic->Chat tool-definition conversion calls this.
func (s *JSONSchema) StripMeta() *JSONSchema {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Schema = ""
	if s.Properties != nil {
		cp.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			cp.Properties[k] = v.StripMeta()
		}
	}
	cp.Items = s.Items.StripMeta()
	return &cp
}
