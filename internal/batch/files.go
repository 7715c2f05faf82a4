package batch

import (
	"os"
	"path/filepath"
	"strings"
)

// CollectFiles expands inputs into an ordered list of files whose extension
// is in extensions. Directories are walked recursively, paths that cannot be
// read are skipped, and duplicates keep their first position.
func CollectFiles(inputs []string, extensions []string) ([]string, error) {
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = struct{}{}
	}

	var files []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := extSet[strings.ToLower(filepath.Ext(path))]; !ok {
			return
		}
		key := path
		if abs, err := filepath.Abs(path); err == nil {
			key = abs
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		files = append(files, path)
	}

	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			add(in)
			continue
		}
		err = filepath.WalkDir(in, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.Type().IsRegular() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
