package batch

import (
	"path/filepath"
	"strings"
)

// ResolveOutputPath returns where the result for inputPath is written.
// The file keeps its base name but always takes the canonical extension.
// A nil outputDir writes beside the source.
func ResolveOutputPath(inputPath string, outputDir *string, extension string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + "." + strings.TrimPrefix(extension, ".")

	dir := filepath.Dir(inputPath)
	if outputDir != nil {
		dir = *outputDir
	}
	return filepath.Join(dir, name)
}

// Collision is an output path shared by more than one input.
type Collision struct {
	Output string
	Inputs []string
}

// OutputCollisions lists the output paths that more than one of files
// resolves to, in order of first appearance.
func OutputCollisions(files []string, outputDir *string, extension string) []Collision {
	byOutput := make(map[string][]string, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		out := filepath.Clean(ResolveOutputPath(f, outputDir, extension))
		if _, seen := byOutput[out]; !seen {
			order = append(order, out)
		}
		byOutput[out] = append(byOutput[out], f)
	}

	var collisions []Collision
	for _, out := range order {
		if inputs := byOutput[out]; len(inputs) > 1 {
			collisions = append(collisions, Collision{Output: out, Inputs: inputs})
		}
	}
	return collisions
}
