package config

import (
	"fmt"
	"path/filepath"
	"strings"
	_ "time/tzdata"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量覆盖前缀，例如 FXLAYER_BACKTEST_WORKERS。
const EnvPrefix = "FXLAYER"

// envKeys 允许通过环境变量覆盖的配置项。
var envKeys = []string{
	"app.log_level",
	"app.log_format",
	"app.http_addr",
	"data.tick_root",
	"data.result_root",
	"data.signal_db",
	"backtest.workers",
	"backtest.from",
	"backtest.to",
	"backtest.tie_break",
	"backtest.price_mode",
}

// Load 读取 YAML 配置（支持 include），叠加环境变量后补齐默认值并校验。
func Load(path string) (*Config, error) {
	files, err := loadConfigTree(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, f := range files {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", f.path, err)
		}
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	markSettings(setKeys, "", v.AllSettings())
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding env for %s failed: %w", key, err)
		}
	}
	return nil
}

// configFile 已读取的单个配置文件，settings 不含 include 键。
type configFile struct {
	path     string
	settings map[string]any
}

// loadConfigTree 展开 include 并按合并顺序返回：被包含的文件排在包含者之前，
// 因此主配置中的值覆盖 risk.yaml 等片段。每个文件只读取一次。
func loadConfigTree(path string) ([]configFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{done: make(map[string]bool), active: make(map[string]bool)}
	if err := r.visit(abs); err != nil {
		return nil, err
	}
	return r.files, nil
}

type includeResolver struct {
	files  []configFile
	done   map[string]bool
	active map[string]bool
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	if r.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.done[path] {
		return nil
	}
	r.active[path] = true
	defer delete(r.active, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	settings := v.AllSettings()
	delete(settings, "include")
	r.files = append(r.files, configFile{path: path, settings: settings})
	r.done[path] = true
	return nil
}

// includeList include 可写成单个路径或路径数组。
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a path or a list of paths")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include entries must be strings, got %T", item)
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// markSettings 记录文件中出现过的叶子键；列表整体算作一个键。
func markSettings(dest keySet, prefix string, node any) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, v := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		markSettings(dest, key, v)
	}
}
