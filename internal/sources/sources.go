// Package sources loads and validates the list of sources to ingest.
package sources

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"horse.fit/newsradar/internal/news"
)

//go:embed sources.schema.json
var sourcesSchemaJSON string

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// FormatFromPath picks the decoder by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported source list extension %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Load reads, validates and decodes a source list file.
func Load(path string) ([]news.Source, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, news.ConfigError("load sources", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, news.ConfigError("load sources", fmt.Errorf("read %s: %w", path, err))
	}
	list, err := Parse(raw, format)
	if err != nil {
		return nil, news.ConfigError("load sources", fmt.Errorf("%s: %w", path, err))
	}
	return list, nil
}

// Parse validates raw against the embedded schema and the semantic rules
// the schema cannot express, then decodes it.
func Parse(raw []byte, format Format) ([]news.Source, error) {
	value, err := decode(raw, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize source list: %w", err)
	}
	var doc struct {
		Sources []news.Source `json:"sources"`
	}
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal source list: %w", err)
	}

	for i := range doc.Sources {
		doc.Sources[i].Name = strings.TrimSpace(doc.Sources[i].Name)
		doc.Sources[i].Endpoint = strings.TrimSpace(doc.Sources[i].Endpoint)
	}
	if err := validateSemantics(doc.Sources); err != nil {
		return nil, err
	}
	return doc.Sources, nil
}

// decode turns any of the supported formats into the generic value shape
// encoding/json produces, which is what the schema validator expects.
func decode(raw []byte, format Format) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("source list is empty")
	}

	var generic any
	switch format {
	case FormatJSON:
		return decodeStrictJSON(trimmed)
	case FormatYAML:
		var m map[string]any
		if err := yaml.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		generic = m
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		generic = m
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return decodeStrictJSON(asJSON)
}

func decodeStrictJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("source list contains trailing content")
	}
	return value, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("sources.schema.json", strings.NewReader(sourcesSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("sources.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func validateSemantics(list []news.Source) error {
	seen := make(map[string]int, len(list))
	for i, src := range list {
		key := strings.ToLower(src.Name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("sources[%d]: name %q already used by sources[%d]", i, src.Name, prev)
		}
		seen[key] = i

		u, err := url.Parse(src.Endpoint)
		if err != nil {
			return fmt.Errorf("sources[%d]: endpoint: %w", i, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sources[%d]: endpoint must be an absolute http(s) URL", i)
		}
		if src.LinkPattern != "" {
			if _, err := regexp.Compile(src.LinkPattern); err != nil {
				return fmt.Errorf("sources[%d]: link_pattern: %w", i, err)
			}
		}
		if src.LinkPattern != "" && src.EffectiveKind() != news.SourceKindPage {
			return fmt.Errorf("sources[%d]: link_pattern only applies to page sources", i)
		}
	}
	return nil
}
