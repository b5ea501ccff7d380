package main

// Provider blank imports: each import activates a self-registering LLM adapter.

import (
	_ "github.com/Strob0t/EventForge/internal/adapter/anthropic"
	_ "github.com/Strob0t/EventForge/internal/adapter/gemini"
	_ "github.com/Strob0t/EventForge/internal/adapter/openai"
)
