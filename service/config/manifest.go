package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/model"
)

//go:embed models.toml
var defaultManifest []byte

// DefaultModels returns the embedded four-model manifest
func DefaultModels() []ModelSpec {
	models, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded model manifest is invalid: %v", err))
	}
	return models
}

// LoadManifest reads a manifest file. An empty path yields the default manifest.
func LoadManifest(path string) ([]ModelSpec, error) {
	if path == "" {
		return DefaultModels(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read model manifest %s: %w", path, err)
	}

	return ParseManifest(data)
}

func ParseManifest(data []byte) ([]ModelSpec, error) {
	var manifest Manifest
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&manifest); err != nil {
		return nil, xerrors.Errorf("parse model manifest: %w", err)
	}

	if len(manifest.Models) == 0 {
		return nil, xerrors.New("model manifest lists no models")
	}

	seen := map[string]bool{}
	for i := range manifest.Models {
		spec := &manifest.Models[i]
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, xerrors.Errorf("model manifest entry %d has no name", i)
		}
		if seen[spec.Name] {
			return nil, xerrors.Errorf("model manifest lists %s twice", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Display == "" {
			spec.Display = spec.Name
		}
		if spec.File == "" {
			return nil, xerrors.Errorf("model %s has no artifact file", spec.Name)
		}

		spec.Output = strings.ToLower(strings.TrimSpace(spec.Output))
		switch spec.Output {
		case model.OutputSoftmax, model.OutputSigmoid:
		default:
			return nil, xerrors.Errorf("model %s has unknown output convention %q", spec.Name, spec.Output)
		}

		if len(spec.InputShape) == 0 {
			spec.InputShape = []int64{1, 224, 224, 3}
		}
		if len(spec.OutputShape) == 0 {
			spec.OutputShape = []int64{1, 2}
			if spec.Output == model.OutputSigmoid {
				spec.OutputShape = []int64{1, 1}
			}
		}
	}

	return manifest.Models, nil
}

// FilterModels keeps the named models, preserving manifest order
func FilterModels(models []ModelSpec, names []string) ([]ModelSpec, error) {
	if len(names) == 0 {
		return models, nil
	}

	wanted := map[string]bool{}
	for _, name := range names {
		wanted[strings.TrimSpace(name)] = true
	}

	filtered := []ModelSpec{}
	for _, spec := range models {
		if wanted[spec.Name] {
			filtered = append(filtered, spec)
			delete(wanted, spec.Name)
		}
	}

	for name := range wanted {
		return nil, xerrors.Errorf("active model %s is not in the manifest", name)
	}

	return filtered, nil
}
