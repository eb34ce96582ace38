// Package agent defines the research personas used by the analysis pipeline.
// Each persona carries a role, a goal, and a backstory; task prompts open with
// the persona preamble so the model answers in character.
package agent
