package contract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType is the JSON type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one property of a stage output document.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Fields describes object properties, or the element properties of an
	// array of objects.
	Fields []Field
}

// Schema is the output contract of a stage.
type Schema struct {
	Fields []Field
}

// Validation is the outcome of checking a payload against a schema.
type Validation struct {
	// Problems lists hard violations (missing required fields, wrong types).
	Problems []string
	// Completeness is the share of declared top-level fields present.
	Completeness float64
}

// OK reports whether the payload satisfied every hard rule.
func (v Validation) OK() bool { return len(v.Problems) == 0 }

// Validate checks raw JSON against the schema.
func (s Schema) Validate(raw json.RawMessage) Validation {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Validation{Problems: []string{fmt.Sprintf("output is not valid JSON: %v", err)}}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Validation{Problems: []string{"output must be a JSON object"}}
	}

	var v Validation
	checkObject(obj, s.Fields, "", &v.Problems)

	if len(s.Fields) > 0 {
		present := 0
		for _, f := range s.Fields {
			if val, ok := obj[f.Name]; ok && !isEmpty(val) {
				present++
			}
		}
		v.Completeness = float64(present) / float64(len(s.Fields))
	} else {
		v.Completeness = 1
	}
	return v
}

func checkObject(obj map[string]any, fields []Field, prefix string, problems *[]string) {
	for _, f := range fields {
		path := prefix + f.Name
		val, ok := obj[f.Name]
		if !ok || val == nil {
			if f.Required {
				*problems = append(*problems, fmt.Sprintf("%s is required", path))
			}
			continue
		}
		if !hasType(val, f.Type) {
			*problems = append(*problems, fmt.Sprintf("%s must be %s", path, f.Type))
			continue
		}
		if f.Required && isEmpty(val) {
			*problems = append(*problems, fmt.Sprintf("%s must not be empty", path))
			continue
		}
		if len(f.Fields) == 0 {
			continue
		}
		switch typed := val.(type) {
		case map[string]any:
			checkObject(typed, f.Fields, path+".", problems)
		case []any:
			for i, item := range typed {
				itemPath := fmt.Sprintf("%s[%d]", path, i)
				m, ok := item.(map[string]any)
				if !ok {
					*problems = append(*problems, itemPath+" must be object")
					continue
				}
				checkObject(m, f.Fields, itemPath+".", problems)
			}
		}
	}
}

func hasType(val any, t FieldType) bool {
	switch t {
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeNumber:
		_, ok := val.(float64)
		return ok
	case TypeBoolean:
		_, ok := val.(bool)
		return ok
	case TypeArray:
		_, ok := val.([]any)
		return ok
	case TypeObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func isEmpty(val any) bool {
	switch typed := val.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}

// Describe renders the schema as a compact JSON-like outline for prompts.
func (s Schema) Describe() string {
	var b strings.Builder
	describeFields(&b, s.Fields)
	return b.String()
}

func describeFields(b *strings.Builder, fields []Field) {
	b.WriteString("{")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%q: ", f.Name)
		switch {
		case f.Type == TypeArray && len(f.Fields) > 0:
			b.WriteString("[")
			describeFields(b, f.Fields)
			b.WriteString("]")
		case f.Type == TypeObject && len(f.Fields) > 0:
			describeFields(b, f.Fields)
		default:
			b.WriteString(string(f.Type))
		}
		if !f.Required {
			b.WriteString("?")
		}
	}
	b.WriteString("}")
}
