package study

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/frecency/config"
	_ "github.com/rushteam/frecency/config/builders" // 注册内置后端
	"github.com/rushteam/frecency/modelsync"
	"github.com/rushteam/frecency/prefs"
)

const (
	// DefaultLearningRate 是未配置时的梯度步长。
	DefaultLearningRate = 0.01
	// DefaultAddonVersion 是未配置 addon_version 时上报的 study_addon_version。
	DefaultAddonVersion = "1.0.0"
)

// Config 是实验配置（支持 YAML/JSON）。
type Config struct {
	AddonVersion string  `yaml:"addon_version" json:"addon_version"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Margin       float64 `yaml:"margin" json:"margin"` // hinge 损失的 margin
	PrefBranch   string  `yaml:"pref_branch" json:"pref_branch"`

	Store     config.StoreConfig     `yaml:"store" json:"store"`
	Telemetry config.TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Branches 按分组覆盖参数
	Branches map[string]BranchConfig `yaml:"branches" json:"branches"`
}

// BranchConfig 是单个分组的参数覆盖。
type BranchConfig struct {
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
}

// Defaults 返回全部字段取默认值的配置。
func Defaults() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.AddonVersion == "" {
		c.AddonVersion = DefaultAddonVersion
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.PrefBranch == "" {
		c.PrefBranch = prefs.DefaultBranch
	}
	if c.Store.Type == "" {
		c.Store.Type = config.DefaultStoreType
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = modelsync.DefaultKeyPrefix
	}
	if c.Telemetry.Transport == "" {
		c.Telemetry.Transport = config.DefaultTransportType
	}
}

// Validate 校验配置取值。
func (c *Config) Validate() error {
	if !(c.LearningRate > 0) {
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	}
	if c.Margin < 0 {
		return fmt.Errorf("margin must not be negative, got %v", c.Margin)
	}
	for name, bc := range c.Branches {
		if _, err := LookupBranch(name); err != nil {
			return fmt.Errorf("branches: %w", err)
		}
		if bc.LearningRate < 0 {
			return fmt.Errorf("branches.%s.learning_rate must not be negative", name)
		}
	}
	return config.Validate(c.Store, c.Telemetry)
}

// LearningRateFor 返回分组的学习率，未覆盖时取全局值。
func (c *Config) LearningRateFor(branch string) float64 {
	if bc, ok := c.Branches[branch]; ok && bc.LearningRate > 0 {
		return bc.LearningRate
	}
	return c.LearningRate
}

// LoadConfig 从文件加载配置：.json 按 JSON 解析，其余按 YAML 解析；缺省字段取默认值。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
