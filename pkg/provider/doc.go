// Package provider abstracts the completion transport behind a Client
// interface with OpenAI and Anthropic implementations.
package provider
