package tools

import (
	"fmt"
)

// Property describes a single parameter in a tool's input schema.
// Mirrors the JSON-schema subset the provider APIs understand.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema declares the parameters a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is the static description of a tool sent to the provider.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ValidateArgs checks model-proposed arguments against the declared schema.
// The model is untrusted input: missing required fields and type mismatches
// are reported as errors the executor converts into tool-result strings.
func ValidateArgs(schema InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			return fmt.Errorf("unexpected argument %q", name)
		}
		if err := validateValue(name, &prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, prop *Property, value any) error {
	if value == nil {
		return fmt.Errorf("argument %q is null", name)
	}

	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, s) {
			return fmt.Errorf("argument %q must be one of %v", name, prop.Enum)
		}
	case "number", "integer":
		// JSON decoding yields float64 for all numbers.
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", name, i), prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
		for childName, childProp := range prop.Properties {
			if childValue, present := obj[childName]; present && childProp != nil {
				if err := validateValue(name+"."+childName, childProp, childValue); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// StringArg extracts an optional string argument, returning fallback when absent.
func StringArg(args map[string]any, name, fallback string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// IntArg extracts an optional integer argument, tolerating JSON float64 decoding.
func IntArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}
