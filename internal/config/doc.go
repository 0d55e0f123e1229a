// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-bot.
//
// The configuration is a single TOML file, loaded once at startup and passed
// by value or pointer to each component. Nothing reads it after
// construction.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ModelConfig: Ollama endpoint and model parameters
//   - InferenceConfig: queueing, edit throttle and retry settings
//   - CommandConfig: one prompt template invocable by users
//   - ValidationError / ValidateErrors: accumulated validation failures
//
// # Configuration Precedence
//
//   - Environment variables (RIGRUN_BOT_*), optionally from a .env file
//   - The TOML file (--config, RIGRUN_BOT_CONFIG, or ./config.toml)
//   - Built-in defaults
//
// # Usage
//
//	path := config.ResolvePath(flagPath)
//	_ = config.LoadDotEnv(path)
//	cfg, err := config.Load(path)
//	if errors.Is(err, config.ErrConfigMissing) {
//	    _ = config.WriteTemplate(path)
//	    os.Exit(2)
//	}
package config
