package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the process-wide immutable configuration. It is loaded once at
// startup and passed explicitly into resolution, expansion and scheduling.
type Config struct {
	Version    int    `json:"version" yaml:"version"`                       // fixed 0 for now
	Invocation string `json:"invocation" yaml:"invocation"`                 // external tool, e.g. vol.py
	Output     string `json:"output" yaml:"output"`                         // output root directory
	Profile    string `json:"profile,omitempty" yaml:"profile,omitempty"`   // explicit profile, bypasses detection
	KDBG       string `json:"kdbg,omitempty" yaml:"kdbg,omitempty"`         // explicit KDBG offset, bypasses detection
	Plugins    string `json:"plugins,omitempty" yaml:"plugins,omitempty"`   // path to a plugin list file
	Dump       bool   `json:"dump" yaml:"dump"`                             // enable plugins extracting artifacts
	Workers    int    `json:"workers" yaml:"workers"`                       // concurrent worker cap
	Verbose    bool   `json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Version:    0,
		Invocation: "vol.py",
		Output:     "volrun-out",
		Workers:    6,
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
