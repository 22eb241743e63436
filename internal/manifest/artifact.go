package manifest

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/msageha/cascade/internal/model"
)

// ArtifactManifestFile declares namespace-style artifacts for repositories
// that are not Go modules:
//
//	artifacts:
//	  - namespace: com.acme
//	    name: core
//	dependencies:
//	  - namespace: com.acme
//	    name: util
//	    version: 1.2.0
const ArtifactManifestFile = "cascade.yaml"

type artifactManifest struct {
	Artifacts    []model.ArtifactCoordinate `yaml:"artifacts"`
	Dependencies []model.ArtifactCoordinate `yaml:"dependencies"`
}

// ArtifactHandler scans and rewrites cascade.yaml manifests.
type ArtifactHandler struct{}

func NewArtifactHandler() *ArtifactHandler {
	return &ArtifactHandler{}
}

func (h *ArtifactHandler) Kind() model.CoordinateKind { return model.KindArtifact }

func (h *ArtifactHandler) Scan(root string) (Result, error) {
	files, err := findFiles(root, ArtifactManifestFile)
	if err != nil {
		return Result{}, err
	}
	res := Result{Modules: make(map[string][]model.Coordinate, len(files))}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w", file, err)
		}
		var m artifactManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", file, err)
		}
		for i, a := range m.Artifacts {
			if a.Artifact == "" {
				return Result{}, fmt.Errorf("%s: artifacts[%d]: name is required", file, i)
			}
			res.Published = append(res.Published, model.ArtifactCoordinate{Group: a.Group, Artifact: a.Artifact})
		}
		deps := make([]model.Coordinate, 0, len(m.Dependencies))
		for i, d := range m.Dependencies {
			if d.Artifact == "" {
				return Result{}, fmt.Errorf("%s: dependencies[%d]: name is required", file, i)
			}
			deps = append(deps, d)
		}
		res.Modules[relDir(root, file)] = deps
	}
	return res, nil
}

// SetRequirement edits the version scalars in place through the YAML node
// tree so comments and key order survive.
func (h *ArtifactHandler) SetRequirement(root string, target model.Coordinate) (bool, error) {
	ac, ok := target.(model.ArtifactCoordinate)
	if !ok {
		return false, fmt.Errorf("artifact requirement: unsupported coordinate %s", target)
	}
	files, err := findFiles(root, ArtifactManifestFile)
	if err != nil {
		return false, err
	}
	changed := false
	for _, file := range files {
		fileChanged, err := setArtifactVersion(file, ac)
		if err != nil {
			return changed, err
		}
		changed = changed || fileChanged
	}
	return changed, nil
}

// MigrateMajor is a no-op: namespace-style coordinates do not encode the
// major version in their identity.
func (h *ArtifactHandler) MigrateMajor(_ string, published model.Coordinate, _ int) (model.Coordinate, bool, error) {
	return published, false, nil
}

func setArtifactVersion(file string, target model.ArtifactCoordinate) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", file, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", file, err)
	}
	if len(doc.Content) == 0 {
		return false, nil
	}
	deps := mappingValue(doc.Content[0], "dependencies")
	if deps == nil || deps.Kind != yaml.SequenceNode {
		return false, nil
	}
	changed := false
	for _, item := range deps.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		current := model.ArtifactCoordinate{
			Group:    scalar(mappingValue(item, "namespace")),
			Artifact: scalar(mappingValue(item, "name")),
		}
		if !current.SameArtifact(target) {
			continue
		}
		if v := mappingValue(item, "version"); v != nil {
			if v.Value == target.Ver {
				continue
			}
			v.Value = target.Ver
		} else {
			item.Content = append(item.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: target.Ver},
			)
		}
		changed = true
	}
	if !changed {
		return false, nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("encode %s: %w", file, err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("encode %s: %w", file, err)
	}
	return true, writeFilePreservingMode(file, buf.Bytes())
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func scalar(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	return n.Value
}
