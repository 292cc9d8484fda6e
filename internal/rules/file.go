package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pelletier/go-toml/v2"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/tlog/internal/activity"
)

// File is the on-disk shape of a rule table.
type File struct {
	Browsers []string   `yaml:"browsers,omitempty" json:"browsers,omitempty" toml:"browsers,omitempty" jsonschema:"description=Process keywords that identify a web browser window"`
	Rules    []FileRule `yaml:"rules" json:"rules" toml:"rules" jsonschema:"description=Ordered rules; the first match wins"`
}

// FileRule is one entry of File.Rules.
type FileRule struct {
	Category string   `yaml:"category" json:"category" toml:"category" jsonschema:"required,minLength=1,description=Category assigned when the rule matches"`
	Kind     string   `yaml:"kind,omitempty" json:"kind,omitempty" toml:"kind,omitempty" jsonschema:"enum=any,enum=process,enum=browser_tab,enum=hardware_input,description=Restrict the rule to one signal kind"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty" toml:"keywords,omitempty" jsonschema:"description=Case-insensitive substrings of the process name (browser titles too) or tab URL"`
	Domains  []string `yaml:"domains,omitempty" json:"domains,omitempty" toml:"domains,omitempty" jsonschema:"description=Registrable domains (eTLD+1) matched against browser tab URLs"`
}

// ConfigError reports a rule file that could not be loaded. Callers log it
// and continue with an empty rule set.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rules %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DefaultFile returns the built-in table in file form.
func DefaultFile() File {
	f := File{Browsers: append([]string(nil), DefaultBrowsers...)}
	for _, r := range DefaultRules() {
		fr := FileRule{Category: r.Category, Keywords: r.Keywords, Domains: r.Domains}
		if r.Kind != activity.KindAny {
			fr.Kind = r.Kind.String()
		}
		f.Rules = append(f.Rules, fr)
	}
	return f
}

// Compile converts the file into a RuleSet. Entries that can never match are
// reported in skipped by index.
func (f File) Compile() (rs *RuleSet, skipped []int, err error) {
	var rules []Rule
	for i, fr := range f.Rules {
		kind, err := activity.ParseKind(fr.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r := Rule{Keywords: fr.Keywords, Domains: fr.Domains, Category: fr.Category, Kind: kind}
		if !r.valid() {
			skipped = append(skipped, i)
			continue
		}
		rules = append(rules, r)
	}
	return New(rules, f.Browsers), skipped, nil
}

// Load reads and compiles the rule file at path. Any failure, including a
// missing file, yields an empty RuleSet and a *ConfigError.
func Load(path string) (*RuleSet, error) {
	f, err := ReadFile(path)
	if err != nil {
		return Empty(), err
	}
	rs, _, err := f.Compile()
	if err != nil {
		return Empty(), &ConfigError{Path: path, Err: err}
	}
	return rs, nil
}

// ReadFile reads, validates and decodes the rule file at path. The format is
// chosen by extension: .yaml/.yml, .toml or .json.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, &ConfigError{Path: path, Err: err}
	}
	f, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return File{}, &ConfigError{Path: path, Err: err}
	}
	return f, nil
}

// Parse decodes rule file data in the format named by ext and validates it
// against Schema.
func Parse(data []byte, ext string) (File, error) {
	var doc any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return File{}, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return File{}, fmt.Errorf("parsing toml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return File{}, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return File{}, fmt.Errorf("unsupported rule file extension %q", ext)
	}
	if doc == nil {
		return File{}, errors.New("rule file is empty")
	}

	// Normalize to plain JSON values so one schema and one decoder cover
	// all three formats.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return File{}, fmt.Errorf("normalizing rule file: %w", err)
	}
	var generic any
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return File{}, fmt.Errorf("normalizing rule file: %w", err)
	}
	if err := validate(generic); err != nil {
		return File{}, err
	}

	var f File
	if err := json.Unmarshal(normalized, &f); err != nil {
		return File{}, fmt.Errorf("decoding rule file: %w", err)
	}
	return f, nil
}

// Marshal encodes f in the format named by ext.
func Marshal(f File, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".toml":
		return toml.Marshal(f)
	case ".json":
		return json.MarshalIndent(f, "", "  ")
	}
	return nil, fmt.Errorf("unsupported rule file extension %q", ext)
}

// EnsureFile writes the default rule table to path if no file exists there.
// It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	data, err := Marshal(DefaultFile(), filepath.Ext(path))
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("creating rules directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return false, fmt.Errorf("writing rules: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("renaming rules: %w", err)
	}
	return true, nil
}

// Schema returns the JSON Schema of the rule file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		Anonymous:                 true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	s := r.Reflect(&File{})
	s.Title = "tlog rules"
	s.Description = "Ordered keyword rules mapping activity signals to categories."
	return json.MarshalIndent(s, "", "  ")
}

var (
	compileOnce    sync.Once
	compiledSchema *validator.Schema
	compileErr     error
)

func validate(doc any) error {
	compileOnce.Do(func() {
		var data []byte
		data, compileErr = Schema()
		if compileErr != nil {
			return
		}
		c := validator.NewCompiler()
		if compileErr = c.AddResource("rules.json", bytes.NewReader(data)); compileErr != nil {
			return
		}
		compiledSchema, compileErr = c.Compile("rules.json")
	})
	if compileErr != nil {
		return fmt.Errorf("compiling rules schema: %w", compileErr)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		var ve *validator.ValidationError
		if errors.As(err, &ve) {
			var msgs []string
			collectErrors(ve, &msgs)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(msgs, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func collectErrors(err *validator.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
