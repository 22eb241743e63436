package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/msageha/cascade/internal/release"
	"github.com/msageha/cascade/internal/yaml"
)

const (
	SummaryFile     = "summary.yaml"
	CoordinatesFile = "coordinates.txt"
	GraphFile       = "graph.dot"
)

// Write stores the summary, the emitted coordinates (one per line) and the
// DOT graph under dir. It returns the written paths.
func Write(dir string, s Summary, res *release.Result) ([]string, error) {
	var paths []string

	summaryPath := filepath.Join(dir, SummaryFile)
	if err := yaml.Write(summaryPath, s); err != nil {
		return paths, fmt.Errorf("write summary: %w", err)
	}
	paths = append(paths, summaryPath)

	var sb strings.Builder
	for _, c := range res.Emitted() {
		sb.WriteString(c.String())
		sb.WriteByte('\n')
	}
	coordsPath := filepath.Join(dir, CoordinatesFile)
	if err := yaml.WriteFile(coordsPath, []byte(sb.String())); err != nil {
		return paths, fmt.Errorf("write coordinates: %w", err)
	}
	paths = append(paths, coordsPath)

	if res.DOT != "" {
		graphPath := filepath.Join(dir, GraphFile)
		if err := yaml.WriteFile(graphPath, []byte(res.DOT)); err != nil {
			return paths, fmt.Errorf("write graph: %w", err)
		}
		paths = append(paths, graphPath)
	}
	return paths, nil
}
