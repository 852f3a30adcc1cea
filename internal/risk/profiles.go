package risk

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"finagent/internal/logger"
)

// Profile 是一组可整体套用的风控预设，字段可再被单独覆盖。
type Profile struct {
	Name              string  `mapstructure:"name" yaml:"name" json:"name"`
	MaxTradePct       float64 `mapstructure:"max_trade_pct" yaml:"max_trade_pct" json:"max_trade_pct"`
	MaxPositionPct    float64 `mapstructure:"max_position_pct" yaml:"max_position_pct" json:"max_position_pct"`
	DailyLossLimitPct float64 `mapstructure:"daily_loss_limit_pct" yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
	ConfirmAboveUSD   float64 `mapstructure:"confirm_above_usd" yaml:"confirm_above_usd" json:"confirm_above_usd"`
}

// builtinProfiles 是内置三档预设，配置文件可覆盖或追加。
func builtinProfiles() map[string]Profile {
	return map[string]Profile{
		"conservative": {Name: "conservative", MaxTradePct: 5, MaxPositionPct: 10, DailyLossLimitPct: 2, ConfirmAboveUSD: 100},
		"moderate":     {Name: "moderate", MaxTradePct: 10, MaxPositionPct: 20, DailyLossLimitPct: 5, ConfirmAboveUSD: 500},
		"aggressive":   {Name: "aggressive", MaxTradePct: 20, MaxPositionPct: 40, DailyLossLimitPct: 10, ConfirmAboveUSD: 2000},
	}
}

// profilesSchema 约束 profiles 文件的结构，热重载时先校验再生效。
const profilesSchema = `{
  "type": "object",
  "properties": {
    "profiles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "max_trade_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
          "max_position_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
          "daily_loss_limit_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
          "confirm_above_usd": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot 是某一时刻的完整预设集合。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener 在 registry 重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理风控预设：内置三档，外部 YAML 可覆盖并支持热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 构造 registry。path 为空时只有内置预设，不做文件监听。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if r.path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profiles failed: %w", err)
	}
	r.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("risk profiles reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前预设集合的拷贝。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile 返回指定名称的预设。
func (r *Registry) Profile(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names 返回全部预设名，按字典序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Profiles))
	for name := range r.snapshot.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) reload() error {
	profiles := builtinProfiles()
	if r.path != "" {
		cfg, err := readProfileFile(r.path)
		if err != nil {
			return err
		}
		for name, p := range cfg.Profiles {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if p.Name == "" {
				p.Name = key
			}
			profiles[key] = p
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	if r.path != "" {
		logger.Infof("risk profiles loaded: %d entries from %s", len(profiles), filepath.Base(r.path))
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("risk profile listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}

var (
	profileSchemaOnce sync.Once
	profileSchema     *jsonschema.Schema
	profileSchemaErr  error
)

func compiledProfileSchema() (*jsonschema.Schema, error) {
	profileSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profiles.json", strings.NewReader(profilesSchema)); err != nil {
			profileSchemaErr = err
			return
		}
		profileSchema, profileSchemaErr = compiler.Compile("profiles.json")
	})
	return profileSchema, profileSchemaErr
}

func readProfileFile(path string) (profileFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return profileFile{}, fmt.Errorf("read risk profiles failed: %w", err)
	}

	// 先以宽松形式解析并做 schema 校验，再映射为结构体。
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return profileFile{}, fmt.Errorf("parse risk profiles failed: %w", err)
	}
	schema, err := compiledProfileSchema()
	if err != nil {
		return profileFile{}, err
	}
	if err := schema.Validate(normalizeYAML(generic)); err != nil {
		return profileFile{}, fmt.Errorf("risk profiles schema: %v", err)
	}

	var cfg profileFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return profileFile{}, fmt.Errorf("parse risk profiles failed: %w", err)
	}
	return cfg, nil
}

// normalizeYAML 把 yaml 解出的 map[any]any 转成 jsonschema 能处理的 map[string]any。
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}
