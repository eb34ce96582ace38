// Package config provides centralized configuration management for the
// MarketSeer runtime, covering the API server, storage and queue backends,
// model invocation presets, and pipeline budgets. It loads YAML files with
// directory-anchored defaults and typed accessors for downstream services.
package config
