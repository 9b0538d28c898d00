// Package llm defines the provider-neutral contract the reference agent uses
// to talk to large language models, together with helpers for decoding the
// JSON replies that planning prompts ask for.
package llm
