package main

// Provider blank imports: each import activates a self-registering adapter.

import (
	_ "github.com/Strob0t/argus/internal/adapter/anthropic"
	_ "github.com/Strob0t/argus/internal/adapter/gemini"
	_ "github.com/Strob0t/argus/internal/adapter/litellm"
)
