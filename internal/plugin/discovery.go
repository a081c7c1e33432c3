// Copyright 2026 The Panel Engine Authors
package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// manifestGlob matches any manifest.yaml nested under the plugins directory,
// an include-glob-over-a-scanned-tree shape repurposed from "files to turn
// into jobs" to "manifests to turn into plugins".
const manifestGlob = "**/manifest.yaml"

// DiscoverManifests walks dir for manifest.yaml files and parses each into
// a Manifest, preserving filesystem walk order so rotation order is
// deterministic across restarts.
func DiscoverManifests(dir string, log *zap.Logger) ([]Manifest, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve plugins dir: %w", err)
	}

	var manifests []Manifest
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		ok, err := doublestar.Match(manifestGlob, filepath.ToSlash(rel))
		if err != nil || !ok {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn("failed to read plugin manifest", zap.String("path", path), zap.Error(err))
			return nil
		}
		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			log.Warn("failed to parse plugin manifest", zap.String("path", path), zap.Error(err))
			return nil
		}
		if m.ID == "" {
			log.Warn("plugin manifest missing id, skipping", zap.String("path", path))
			return nil
		}
		manifests = append(manifests, m)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk plugins dir %s: %w", absRoot, walkErr)
	}
	return manifests, nil
}
