// Package model defines the gateway abstraction between the deliberation
// engine and language-model providers. The engine depends only on the
// Gateway interface: one opaque prompt-to-text call. Provider adapters live
// in subpackages (anthropic, openai); MockGateway supports tests and
// examples without network access.
package model
