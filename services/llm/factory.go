// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"time"
)

// Backend names accepted by NewClient.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendLangChain = "langchain"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	BaseURL    string
	Model      string
	APIKey     string
	APIKeyFile string
	Timeout    time.Duration
}

// NewClient builds the backend named by cfg.Backend.
func NewClient(cfg Config) (LLMClient, error) {
	switch cfg.Backend {
	case BackendOllama, "":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout)
	case BackendOpenAI:
		key, err := ResolveOpenAIKey(cfg.APIKey, cfg.APIKeyFile)
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(key, cfg.BaseURL, cfg.Model)
	case BackendLangChain:
		return NewLangChainOllamaClient(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %q", cfg.Backend)
	}
}
