// Package speech defines the speech-to-text and text-to-speech collaborator
// contracts, with a deterministic stub and an OpenAI-backed provider.
package speech
