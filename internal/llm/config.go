package llm

import (
	"fmt"
	"time"
)

// Preset 表示内置的生成档位。
type Preset string

const (
	PresetStrict   Preset = "strict"
	PresetStandard Preset = "standard"
	PresetCustom   Preset = "custom"
)

// custom 档位的硬上限，防止失控的调用成本。
const (
	TokenCeiling   = 1024
	TimeoutCeiling = 120 * time.Second
)

// GenerationConfig 描述绑定到单个客户端的调用参数，创建后不可变。
type GenerationConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// CustomParams 是 custom 档位的调用方入参。
type CustomParams struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ParsePreset 解析档位名称。
func ParsePreset(name string) (Preset, error) {
	switch Preset(name) {
	case PresetStrict, PresetStandard, PresetCustom:
		return Preset(name), nil
	case "":
		return PresetStandard, nil
	default:
		return "", fmt.Errorf("未知的生成档位: %s", name)
	}
}

// NewConfig 根据档位构造生成参数。
// strict 面向数据收集类任务，standard 面向分析与综述类任务，
// custom 接受调用方入参但始终收敛在硬上限以内。
func NewConfig(preset Preset, custom CustomParams) (GenerationConfig, error) {
	switch preset {
	case PresetStrict:
		return GenerationConfig{
			Temperature: 0.1,
			MaxTokens:   150,
			Timeout:     60 * time.Second,
		}, nil
	case PresetStandard, "":
		return GenerationConfig{
			Temperature: 0.3,
			MaxTokens:   300,
			Timeout:     60 * time.Second,
		}, nil
	case PresetCustom:
		return clampCustom(custom), nil
	default:
		return GenerationConfig{}, fmt.Errorf("未知的生成档位: %s", preset)
	}
}

// clampCustom 将调用方入参收敛到硬上限以内，空值回退到 standard 档位。
func clampCustom(custom CustomParams) GenerationConfig {
	cfg := GenerationConfig{
		Temperature: custom.Temperature,
		MaxTokens:   custom.MaxTokens,
		Timeout:     custom.Timeout,
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.MaxTokens > TokenCeiling {
		cfg.MaxTokens = TokenCeiling
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = 0
	}
	if cfg.Temperature > 1 {
		cfg.Temperature = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Timeout > TimeoutCeiling {
		cfg.Timeout = TimeoutCeiling
	}
	return cfg
}
