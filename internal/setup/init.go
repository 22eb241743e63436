// Package setup initialises a cascade workspace.
package setup

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	atomicyaml "github.com/msageha/cascade/internal/yaml"
	"github.com/msageha/cascade/templates"
)

// Dir is the workspace directory name.
const Dir = ".cascade"

// ConfigFile is the configuration file inside Dir.
const ConfigFile = "config.yaml"

// Run creates .cascade/ in projectDir with the default configuration.
// projectName defaults to the directory's base name.
func Run(projectDir, projectName string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	base := filepath.Join(absDir, Dir)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"repos", "reports", "staging", "locks", "logs"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}
	cfg, err := renderConfig(projectName)
	if err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.WriteFile(filepath.Join(base, ConfigFile), cfg); err != nil {
		return "", fmt.Errorf("write %s: %w", ConfigFile, err)
	}
	return base, nil
}

// renderConfig fills project.name in the embedded template, keeping its
// comments.
func renderConfig(projectName string) ([]byte, error) {
	data, err := fs.ReadFile(templates.FS, ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yamlv3.MappingNode {
		return nil, fmt.Errorf("config template is not a mapping")
	}
	project := lookup(doc.Content[0], "project")
	name := lookup(project, "name")
	if name == nil {
		return nil, fmt.Errorf("config template has no project.name")
	}
	name.Value = projectName
	name.Tag = "!!str"
	name.Style = 0

	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func lookup(n *yamlv3.Node, key string) *yamlv3.Node {
	if n == nil || n.Kind != yamlv3.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
