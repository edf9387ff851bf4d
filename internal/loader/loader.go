// Package loader discovers model definitions in a directory of YAML or JSON
// files. It produces the ordered definition list the facade registers; the
// registry itself never touches the filesystem.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/model"
)

// DefaultPattern matches every file name that does not end in a slash or a
// tilde, which excludes editor backup files.
const DefaultPattern = `[^/~]$`

// generatorKey names the attribute key that selects a registered generator
// as the function valued default.
const generatorKey = "generator"

// file is the on-disk shape of a model definition.
type file struct {
	Identity   string                    `yaml:"identity" json:"identity"`
	GlobalID   string                    `yaml:"globalId" json:"globalId"`
	ExportName string                    `yaml:"exportName" json:"exportName"`
	Datastore  string                    `yaml:"datastore" json:"datastore"`
	Connection string                    `yaml:"connection" json:"connection"`
	TableName  string                    `yaml:"tableName" json:"tableName"`
	PrimaryKey string                    `yaml:"primaryKey" json:"primaryKey"`
	Migrate    string                    `yaml:"migrate" json:"migrate"`
	Attributes map[string]map[string]any `yaml:"attributes" json:"attributes"`
}

// Source loads the definitions of one directory.
type Source struct {
	Dir     string
	Pattern *regexp.Regexp
}

// NewSource returns a Source for dir. An empty pattern selects DefaultPattern.
func NewSource(dir, pattern string) (*Source, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	return &Source{Dir: dir, Pattern: re}, nil
}

// Load implements the facade's definition source.
func (s *Source) Load(ctx context.Context) ([]*model.Definition, error) {
	return LoadDirectory(ctx, s.Dir, s.Pattern)
}

// LoadDirectory parses every regular file of dir whose name matches pattern,
// in lexical order. A nil pattern matches every file. The directory must
// exist; any file that fails to parse fails the whole load.
func LoadDirectory(ctx context.Context, dir string, pattern *regexp.Regexp) ([]*model.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("read models directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []*model.Definition
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if pattern != nil && !pattern.MatchString(entry.Name()) {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile parses one definition file. The format follows the extension.
func LoadFile(path string) (*model.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	def, err := Parse(data, ext, strings.TrimSuffix(base, ext))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// Parse decodes a definition in the format named by ext (".yaml", ".yml" or
// ".json"). name is the file base name: the identity defaults to its lower
// case form and the export name to name itself.
func Parse(data []byte, ext, name string) (*model.Definition, error) {
	var f file
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML model: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported model file format: %q (supported: .yaml, .yml, .json)", ext)
	}

	def := &model.Definition{
		Identity:   f.Identity,
		GlobalID:   f.GlobalID,
		ExportName: f.ExportName,
		Datastore:  f.Datastore,
		Connection: f.Connection,
		TableName:  f.TableName,
		PrimaryKey: f.PrimaryKey,
		Migrate:    f.Migrate,
	}
	if def.Identity == "" {
		def.Identity = strings.ToLower(name)
	}
	if def.ExportName == "" && def.GlobalID == "" {
		def.ExportName = name
	}

	if f.Attributes != nil {
		def.Attributes = make(model.Attributes, len(f.Attributes))
	}
	for attr, raw := range f.Attributes {
		if raw == nil {
			def.Attributes[attr] = nil
			continue
		}
		spec := model.FieldSpec(raw)
		if g, ok := spec[generatorKey]; ok {
			gname, _ := g.(string)
			gen, err := model.LookupGenerator(gname)
			if err != nil {
				return nil, fmt.Errorf("%w: attribute %q: %w", core.ErrModelValidation, attr, err)
			}
			delete(spec, generatorKey)
			spec["defaultsTo"] = gen
		}
		def.Attributes[attr] = spec
	}
	return def, nil
}
