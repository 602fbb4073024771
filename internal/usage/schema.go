package usage

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var defaultSchemaYAML []byte

// Schema maps logical snapshot fields to upstream JSON paths. Paths are data,
// not code, so an upstream rename is a schema edit rather than a release.
// Each field lists alternative dot-separated paths tried in order.
type Schema struct {
	Usage struct {
		SessionPercent []string `yaml:"session_percent"`
		SessionResets  []string `yaml:"session_resets_at"`
		WeekPercent    []string `yaml:"week_percent"`
		WeekResets     []string `yaml:"week_resets_at"`
		OpusPercent    []string `yaml:"opus_percent"`
		SonnetPercent  []string `yaml:"sonnet_percent"`
	} `yaml:"usage"`
	Credits struct {
		Amount   []string `yaml:"amount"`
		Currency []string `yaml:"currency"`
	} `yaml:"credits"`
	Overage struct {
		Used     []string `yaml:"used"`
		Limit    []string `yaml:"limit"`
		Currency []string `yaml:"currency"`
	} `yaml:"overage"`
}

// DefaultSchema returns the schema compiled into the binary.
func DefaultSchema() (*Schema, error) {
	return parseSchema(defaultSchemaYAML)
}

// LoadSchema reads a schema override from disk, falling back to the embedded
// default when the file does not exist.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSchema()
		}
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return parseSchema(data)
}

func parseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}

// lookupPath walks a dot-separated path through nested JSON maps.
func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// firstFloat tries each path in order and returns the first numeric hit.
func firstFloat(doc map[string]any, paths []string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookupPath(doc, p)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// firstString tries each path in order and returns the first non-empty string.
func firstString(doc map[string]any, paths []string) (string, bool) {
	for _, p := range paths {
		v, ok := lookupPath(doc, p)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
