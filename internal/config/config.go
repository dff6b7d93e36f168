package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	Filename       = "Mcubuild.toml"
	DefaultProfile = "c-asm"
)

var (
	errNoDevice = errors.New("target.device must not be empty")
	errNoRoot   = errors.New("project.root must not be empty")
)

func boolPtr(b bool) *bool { return &b }

// builtinProfiles returns the two stock build flavours: one assembles the startup
// files, the other compiles C sources only
func builtinProfiles() map[string]ProfileSection {
	return map[string]ProfileSection{
		"c-asm": {
			Target: TargetSection{Asm: boolPtr(true)},
		},
		"c-only": {
			Target: TargetSection{Asm: boolPtr(false)},
		},
	}
}

type Config struct {
	Project   ProjectSection            `toml:"project"`
	Exclude   ExcludeSection            `toml:"exclude"`
	Toolchain ToolchainSection          `toml:"toolchain"`
	Target    TargetSection             `toml:"target"`
	Profile   map[string]ProfileSection `toml:"profile"`

	// directory holding the config file, relative paths resolve against it
	basedir string
}

func (c Config) Profiles() []string {
	profiles := make([]string, 0, len(c.Profile))
	for k := range c.Profile {
		profiles = append(profiles, k)
	}
	slices.Sort(profiles)
	return profiles
}

// ProjectSection defines the [project] section
type ProjectSection struct {
	Name      string `toml:"name"`
	Root      string `toml:"root"`
	OutputDir string `toml:"output-dir"`
	Elf       string `toml:"elf"`
	Hex       string `toml:"hex"`
}

// ExcludeSection defines the [exclude] section
type ExcludeSection struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
	Globs []string `toml:"globs"`
}

// ToolchainSection defines the [toolchain] section
type ToolchainSection struct {
	Prefix     string   `toml:"prefix"`
	BinDir     string   `toml:"bin-dir"`
	SystemDirs []string `toml:"system-dirs"`
	UserDirs   []string `toml:"user-dirs"`
}

// TargetSection defines the [target] section
type TargetSection struct {
	Device       string            `toml:"device"`
	CPUFlags     []string          `toml:"cpu-flags"`
	OptLevel     string            `toml:"opt-level"`
	LinkerScript string            `toml:"linker-script"`
	Defines      map[string]string `toml:"defines"`
	Cflags       []string          `toml:"cflags"`
	Ldflags      []string          `toml:"ldflags"`
	Asm          *bool             `toml:"asm"`
	GitDefine    string            `toml:"git-define"`
}

// ProfileSection defines a [profile.*] section, it is layered on top of the base
// [exclude] and [target] sections
type ProfileSection struct {
	Exclude ExcludeSection `toml:"exclude"`
	Target  TargetSection  `toml:"target"`
}

func defaultConfig() *Config {
	return &Config{
		Project: ProjectSection{
			Root:      ".",
			OutputDir: "build",
			Elf:       "main.elf",
			Hex:       "main.hex",
		},
		Toolchain: ToolchainSection{
			Prefix: "arm-none-eabi-",
		},
		Target: TargetSection{
			Device:   "STM32F103xB",
			CPUFlags: []string{"-mcpu=cortex-m3", "-mthumb"},
			OptLevel: "s",
		},
		Profile: builtinProfiles(),
	}
}

// mergeStructs merges the fields of the src struct into the dst struct. Slices are
// appended, maps are merged, nested structs are merged field by field, booleans are
// or'ed and any other non-zero value wins.
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Struct:
			if err := mergeStructs(dstField.Addr().Interface(), srcField.Interface()); err != nil {
				return err
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

// mergeSection merges src into dst. Map sections such as [profile] are merged key by
// key, entries present on both sides are merged with mergeStructs.
func mergeSection(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Map {
		return mergeStructs(dst, src)
	}

	dstMap := dstVal.Elem()
	srcMap := reflect.ValueOf(src)
	if srcMap.Kind() == reflect.Pointer {
		srcMap = srcMap.Elem()
	}
	if srcMap.Type() != dstMap.Type() {
		return fmt.Errorf("dst and src must be of the same map type")
	}
	if dstMap.IsNil() {
		dstMap.Set(reflect.MakeMap(dstMap.Type()))
	}

	for _, key := range srcMap.MapKeys() {
		val := srcMap.MapIndex(key)
		if cur := dstMap.MapIndex(key); cur.IsValid() && cur.Kind() == reflect.Struct {
			merged := reflect.New(cur.Type())
			merged.Elem().Set(cur)
			if err := mergeStructs(merged.Interface(), val.Interface()); err != nil {
				return fmt.Errorf("%v: %w", key, err)
			}
			val = merged.Elem()
		}
		dstMap.SetMapIndex(key, val)
	}
	return nil
}

func validateGlobs(section string, globs []string) error {
	for _, pat := range globs {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid glob in [%s]: %q", section, pat)
		}
	}
	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// isCondition reports whether a table key is a boolean expression over the env
func isCondition(key string, env ConfigEnv) bool {
	_, err := expr.Compile(key, expr.Env(env), expr.AsBool())
	return err == nil
}

// unmarshalConditionalSection parses a section and merges every conditional sub-table
// whose expression evaluates to true
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok && isCondition(key, env) {
			conditionalFields[key] = subMap
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	// sorted so overlays that set the same scalar resolve the same way every run
	expressions := slices.Sorted(maps.Keys(conditionalFields))
	for _, expression := range expressions {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(conditionalFields[expression])), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeSection(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	lastIndex := 0

	for _, m := range matches {
		sb.WriteString(s[lastIndex:m[0]])

		expression := strings.TrimSpace(s[m[2]:m[3]])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&sb, "%v", result)
		lastIndex = m[1]
	}

	sb.WriteString(s[lastIndex:])

	return sb.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}
	if rawConfig == nil {
		rawConfig = map[string]any{}
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := defaultConfig()
	cfg.basedir = env.basedir

	if err := unmarshalConditionalSection(rawConfig, "project", &cfg.Project, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "exclude", &cfg.Exclude, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "toolchain", &cfg.Toolchain, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "target", &cfg.Target, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "profile", &cfg.Profile, env); err != nil {
		return nil, err
	}

	// a redefined built-in profile keeps its assembly setting unless it sets one
	for name, builtin := range builtinProfiles() {
		if p, ok := cfg.Profile[name]; ok && p.Target.Asm == nil {
			p.Target.Asm = builtin.Target.Asm
			cfg.Profile[name] = p
		}
	}

	if err := validateGlobs("exclude", cfg.Exclude.Globs); err != nil {
		return nil, err
	}
	for _, name := range cfg.Profiles() {
		if err := validateGlobs("profile."+name+".exclude", cfg.Profile[name].Exclude.Globs); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ParseConfigFromFile parses a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}

// Load reads the config file in dir for the given profile. A .env file next to it is
// loaded first so expressions can read its variables through environ.
func Load(dir, filename, profile string) (*Settings, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = Filename
	}
	if profile == "" {
		profile = DefaultProfile
	}

	dotenv := filepath.Join(dir, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, filename)
	}
	cfg, err := ParseConfigFromFile(path, NewConfigEnv(filepath.Dir(path), profile))
	if err != nil {
		return nil, err
	}
	return cfg.Settings(profile)
}
