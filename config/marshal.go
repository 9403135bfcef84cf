package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON accepts apiKey as either a bare string or a string array.
func (f *APIKeyField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		f.Values = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("apiKey: expected string or []string: %w", err)
	}
	f.Values = many
	return nil
}

func (f *APIKeyField) UnmarshalYAML(node *yaml.Node) error {
	var single string
	if err := node.Decode(&single); err == nil {
		f.Values = []string{single}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return fmt.Errorf("apiKey: expected string or []string: %w", err)
	}
	f.Values = many
	return nil
}

// UnmarshalJSON accepts compatibility as either a shorthand string
// ("iflow/thinking:enabled") or the structured {type, config} object.
func (f *CompatibilityField) UnmarshalJSON(data []byte) error {
	var shorthand string
	if err := json.Unmarshal(data, &shorthand); err == nil {
		f.Shorthand = shorthand
		return nil
	}
	var structured struct {
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	}
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("compatibility: expected string or {type,config}: %w", err)
	}
	f.Type, f.Config = structured.Type, structured.Config
	return nil
}

func (f *CompatibilityField) UnmarshalYAML(node *yaml.Node) error {
	var shorthand string
	if err := node.Decode(&shorthand); err == nil {
		f.Shorthand = shorthand
		return nil
	}
	var structured struct {
		Type   string         `yaml:"type"`
		Config map[string]any `yaml:"config"`
	}
	if err := node.Decode(&structured); err != nil {
		return fmt.Errorf("compatibility: expected string or {type,config}: %w", err)
	}
	f.Type, f.Config = structured.Type, structured.Config
	return nil
}
