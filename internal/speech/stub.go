// ABOUTME: Deterministic stub STT/TTS providers for tests and dev mode
// ABOUTME: Transcription echoes UTF-8 payloads; synthesis emits a tagged byte stream

package speech

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Stub implements both Transcriber and Synthesizer deterministically. A
// valid UTF-8 payload transcribes to itself, which lets tests drive the
// audio input path with plain text.
type Stub struct{}

// NewStub creates a stub provider.
func NewStub() *Stub {
	return &Stub{}
}

// Transcribe returns the payload as text when it is valid UTF-8.
func (s *Stub) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty audio payload", ErrUnavailable)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: stub transcriber requires UTF-8 payloads", ErrUnavailable)
	}
	return string(data), nil
}

// Synthesize returns a deterministic tagged byte stream.
func (s *Stub) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	return fmt.Appendf(nil, "STUBAUDIO[%s/%s]:%s", voice, format, text), nil
}
