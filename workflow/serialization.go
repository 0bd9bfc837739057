package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON converts a Definition to an indented JSON string
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Definition to a YAML string
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON creates a Definition from a JSON string
func FromJSON(jsonStr string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}

	if err := ValidateDefinition(&def); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// FromYAML creates a Definition from a YAML string
func FromYAML(yamlStr string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(yamlStr), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	normalizeGraph(&def.Data)

	if err := ValidateDefinition(&def); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// LoadFromFile loads a Definition, choosing the format by extension
// (.yaml/.yml, anything else is JSON). The id defaults to the file name.
func LoadFromFile(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def *Definition
	if IsYAMLFile(filename) {
		def, err = fromYAMLUnvalidated(data)
	} else {
		def, err = fromJSONUnvalidated(data)
	}
	if err != nil {
		return nil, err
	}
	if def.ID == "" {
		base := filepath.Base(filename)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := ValidateDefinition(def); err != nil {
		return nil, fmt.Errorf("%s: validation failed: %w", filename, err)
	}
	return def, nil
}

// SaveToFile writes a Definition, choosing the format by extension.
func (d *Definition) SaveToFile(filename string) error {
	var (
		out string
		err error
	)
	if IsYAMLFile(filename) {
		out, err = d.ToYAML()
	} else {
		out, err = d.ToJSON()
	}
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", d.ID, err)
	}

	if err := os.WriteFile(filename, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// IsYAMLFile reports whether the file name has a YAML extension.
func IsYAMLFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func fromJSONUnvalidated(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	return &def, nil
}

func fromYAMLUnvalidated(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	normalizeGraph(&def.Data)
	return &def, nil
}

// ParseGraph decodes a bare graph document ({nodes, edges}) in JSON or YAML.
func ParseGraph(data []byte, yamlFormat bool) (*Graph, error) {
	var g Graph
	if yamlFormat {
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph from YAML: %w", err)
		}
		normalizeGraph(&g)
	} else if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph from JSON: %w", err)
	}
	if err := ValidateGraph(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ValidateDefinition validates a loaded Definition
func ValidateDefinition(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if def.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	return ValidateGraph(&def.Data)
}

// ValidateGraph checks structural integrity: node ids present and unique,
// node types set, edges pointing at existing nodes, at most one incoming
// edge per node. Root presence is checked at run time.
func ValidateGraph(g *Graph) error {
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node ID is required")
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node ID: %s", node.ID)
		}
		nodeIDs[node.ID] = true

		if node.Type == "" {
			return fmt.Errorf("node %s: type is required", node.ID)
		}
	}

	incoming := make(map[string]string, len(g.Edges))
	for _, edge := range g.Edges {
		if !nodeIDs[edge.From] {
			return fmt.Errorf("edge %s: source node %q not found", edge.EdgeID(), edge.From)
		}
		if !nodeIDs[edge.To] {
			return fmt.Errorf("edge %s: target node %q not found", edge.EdgeID(), edge.To)
		}
		if prev, dup := incoming[edge.To]; dup {
			return fmt.Errorf("node %s has more than one incoming edge (%s, %s)", edge.To, prev, edge.EdgeID())
		}
		incoming[edge.To] = edge.EdgeID()
	}
	return nil
}

// normalizeGraph converts YAML-decoded values to the shapes JSON decoding
// produces, so a graph behaves the same whichever format it came from.
func normalizeGraph(g *Graph) {
	for i := range g.Nodes {
		if g.Nodes[i].Data == nil {
			continue
		}
		g.Nodes[i].Data, _ = normalizeValue(g.Nodes[i].Data).(map[string]any)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return v
	}
}
