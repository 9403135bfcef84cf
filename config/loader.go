// Loader implements the Config Compatibility Layer's entry point: load a
// ConfigDocument from disk, run Process over it, and return the normalized
// result plus the assembler config. Structured the way the teacher's
// Loader builds a flat settings object (YAML file, then environment
// override via reflection), generalized to RouteCodex's single JSON/YAML
// document and its narrower set of environment overrides (spec.md §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader is a builder for locating and parsing the ConfigDocument.
type Loader struct {
	path string
}

func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// ResolvePath applies the ROUTECODEX_CONFIG env override, falling back to
// ~/.routecodex/config.json, per spec.md §6.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("ROUTECODEX_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".routecodex", "config.json")
}

// Load reads the document (JSON or YAML, detected by extension; JSON is
// valid YAML so both paths share the same decoder) and runs Process.
func (l *Loader) Load() (*Normalized, []Warning, *AssemblerConfig, error) {
	path := ResolvePath(l.path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	return Process(doc)
}

// RuntimeOverrides holds the environment overrides spec.md §6 recognizes
// outside the ConfigDocument itself: server port/basedir, debug snapshots,
// tool-stage policy knobs.
type RuntimeOverrides struct {
	Port            int
	BaseDir         string
	HubSnapshots    bool
	AllowedTools    []string
	ToolLimit       int
	SystemToolGuide bool
}

// DefaultRuntimeOverrides returns the zero-config defaults before any env
// var is applied.
func DefaultRuntimeOverrides() RuntimeOverrides {
	return RuntimeOverrides{
		Port:            8080,
		BaseDir:         "",
		HubSnapshots:    false,
		AllowedTools:    nil,
		ToolLimit:       32,
		SystemToolGuide: true,
	}
}

// LoadRuntimeOverrides reads ROUTECODEX_PORT, ROUTECODEX_BASEDIR,
// ROUTECODEX_HUB_SNAPSHOTS, RCC_ALLOWED_TOOLS, RCC_TOOL_LIMIT,
// RCC_SYSTEM_TOOL_GUIDANCE.
func LoadRuntimeOverrides() RuntimeOverrides {
	cfg := DefaultRuntimeOverrides()

	if v := os.Getenv("ROUTECODEX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("ROUTECODEX_BASEDIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("ROUTECODEX_HUB_SNAPSHOTS"); v != "" {
		cfg.HubSnapshots = v != "0" && strings.ToLower(v) != "false"
	}
	if v := os.Getenv("RCC_ALLOWED_TOOLS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.AllowedTools = parts
	}
	if v := os.Getenv("RCC_TOOL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ToolLimit = n
		}
	}
	if v := os.Getenv("RCC_SYSTEM_TOOL_GUIDANCE"); v != "" {
		cfg.SystemToolGuide = v != "0"
	}

	return cfg
}
