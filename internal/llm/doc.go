// Package llm defines the provider-neutral contract for text generation.
// Concrete adapters (openai, anthropic, gemini, mistral, selfhost) live in
// subpackages and normalize their wire formats to the Request/Response pair
// declared here. Generation presets bound the token and timeout budget of
// each pipeline task.
package llm
