package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
)

const (
	// ErrCodeNotFound 表示显式指定的 --config 文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段/参数不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	// FileName 是输入根目录下可选配置文件的固定文件名。
	FileName = "rpgmx.json"
	// DefaultConcurrency 是并发的内置默认值（当 CLI 与配置都未指定时）。
	DefaultConcurrency = 4
	DefaultLogLevel    = "info"
)

// CLIArgs 是 CLI 解析后的原始输入，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --strict=false 必须能覆盖配置中的 strict=true。
type CLIArgs struct {
	Direction domain.Direction

	InputDir string
	File     string
	Output   string

	Key    string
	KeySet bool

	Engine string

	ConfigPath string

	Concurrency int // 0 表示未指定
	Strict      *bool
	DryRun      *bool
	NoOverwrite *bool

	KeyMode  string
	KeyFill  string
	LogLevel string
}

// FileConfig 对应 rpgmx.json 的解析结构。
type FileConfig struct {
	Key           string   `json:"key"`
	Engine        string   `json:"engine"`
	Output        string   `json:"output"`
	Concurrency   int      `json:"concurrency"`
	Strict        *bool    `json:"strict"`
	DryRun        *bool    `json:"dry_run"`
	NoOverwrite   *bool    `json:"no_overwrite"`
	UseSystemJSON *bool    `json:"use_system_json"`
	KeyMode       string   `json:"key_mode"`
	KeyFill       string   `json:"key_fill"`
	ExcludeDirs   []string `json:"exclude_dirs"`
	LogLevel      string   `json:"log_level"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Direction domain.Direction

	// Path 是输入（目录或单个文件）的 clean + absolute 路径。
	Path       string
	SingleFile bool
	// Root 是相对路径的基准：目录输入时等于 Path，单文件时为其所在目录。
	Root   string
	Output string

	Key    domain.Key
	KeySet bool
	Engine domain.Engine // 可能为空：加密时由工程检测补齐

	Concurrency   int
	Strict        bool
	DryRun        bool
	NoOverwrite   bool
	UseSystemJSON bool
	KeyMode       domain.KeyMode
	KeyFill       keyrec.FillPolicy
	ExcludeDirs   []string
	LogLevel      string

	// ConfigFile 是实际读取到的配置文件（未读取时为空）。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code == ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <root>/rpgmx.json（可选），root 为输入目录或单文件所在目录
//
// 覆盖优先级（固定）：CLI > 配置文件 > 内置默认。exclude_dirs / use_system_json 仅由配置文件控制。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.File) != "" && strings.TrimSpace(cli.InputDir) != "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: errors.New("--file 与 --input-dir 不能同时指定")}
	}

	in, single, root, err := resolveInput(cwdAbs, cli)
	if err != nil {
		return EffectiveConfig{}, err
	}

	var (
		cfgPath string
		fc      FileConfig
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(root, FileName)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			cfgPath = "" // 不存在也不报错
		}
	}

	eff, err := merge(cwdAbs, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Path = in
	eff.SingleFile = single
	eff.Root = root
	if eff.Output == "" {
		// 默认输出到输入所在位置（就地、保留目录结构）。
		eff.Output = root
	}
	return eff, nil
}

func resolveInput(cwdAbs string, cli CLIArgs) (in string, single bool, root string, err error) {
	if f := strings.TrimSpace(cli.File); f != "" {
		in = absCleanFrom(cwdAbs, f)
		fi, e := os.Stat(in)
		if e != nil || !fi.Mode().IsRegular() {
			return "", false, "", &Error{Code: ErrCodeInvalid, Path: in, Err: errors.New("--file 需要一个已存在的文件")}
		}
		return in, true, filepath.Dir(in), nil
	}

	dir := strings.TrimSpace(cli.InputDir)
	if dir == "" {
		dir = "."
	}
	in = absCleanFrom(cwdAbs, dir)
	fi, e := os.Stat(in)
	if e != nil || !fi.IsDir() {
		return "", false, "", &Error{Code: ErrCodeInvalid, Path: in, Err: errors.New("--input-dir 需要一个已存在的目录")}
	}
	return in, false, in, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff := EffectiveConfig{
		Direction:     cli.Direction,
		UseSystemJSON: true,
		ExcludeDirs:   append([]string(nil), fc.ExcludeDirs...),
		ConfigFile:    cfgPath,
	}

	switch cli.Direction {
	case domain.DirectionDecrypt, domain.DirectionEncrypt:
	default:
		return invalid(fmt.Errorf("未知方向 %q", cli.Direction))
	}

	// key：CLI > config
	rawKey := ""
	if cli.KeySet {
		rawKey = cli.Key
	} else if strings.TrimSpace(fc.Key) != "" {
		rawKey = fc.Key
	}
	if rawKey != "" {
		k, err := domain.ParseKey(rawKey)
		if err != nil {
			return invalid(err)
		}
		eff.Key = k
		eff.KeySet = true
	} else if cli.KeySet {
		return invalid(errors.New("--key 不能为空"))
	}

	engine := fc.Engine
	if strings.TrimSpace(cli.Engine) != "" {
		engine = cli.Engine
	}
	eng, err := domain.ParseEngine(engine)
	if err != nil {
		return invalid(err)
	}
	eff.Engine = eng

	// output：相对 cwd（CLI）或相对配置文件所在目录（config）。
	if o := strings.TrimSpace(cli.Output); o != "" {
		eff.Output = absCleanFrom(cwdAbs, o)
	} else if o := strings.TrimSpace(fc.Output); o != "" {
		eff.Output = absCleanFrom(filepath.Dir(cfgPath), o)
	}

	concurrency := fc.Concurrency
	if cli.Concurrency != 0 {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}
	eff.Concurrency = concurrency

	eff.Strict = pickBool(cli.Strict, fc.Strict, false)
	eff.DryRun = pickBool(cli.DryRun, fc.DryRun, false)
	eff.NoOverwrite = pickBool(cli.NoOverwrite, fc.NoOverwrite, false)
	if fc.UseSystemJSON != nil {
		eff.UseSystemJSON = *fc.UseSystemJSON
	}

	mode, err := domain.ParseKeyMode(pickString(cli.KeyMode, fc.KeyMode))
	if err != nil {
		return invalid(err)
	}
	eff.KeyMode = mode

	fill, err := keyrec.ParseFillPolicy(pickString(cli.KeyFill, fc.KeyFill))
	if err != nil {
		return invalid(err)
	}
	eff.KeyFill = fill

	level := strings.ToLower(pickString(cli.LogLevel, fc.LogLevel))
	if level == "" {
		level = DefaultLogLevel
	}
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", level))
	}
	eff.LogLevel = level

	return eff, nil
}

func pickBool(cli, file *bool, def bool) bool {
	if cli != nil {
		return *cli
	}
	if file != nil {
		return *file
	}
	return def
}

func pickString(cli, file string) string {
	if s := strings.TrimSpace(cli); s != "" {
		return s
	}
	return strings.TrimSpace(file)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
