// ABOUTME: Tests for the deterministic stub speech providers
// ABOUTME: Transcription echoes text payloads; synthesis is stable per input

package speech

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_TranscribeEchoesText(t *testing.T) {
	s := NewStub()

	text, err := s.Transcribe(context.Background(), []byte("merge pr 412"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "merge pr 412", text)
}

func TestStub_TranscribeRejectsEmpty(t *testing.T) {
	s := NewStub()

	_, err := s.Transcribe(context.Background(), nil, "wav")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStub_TranscribeRejectsBinary(t *testing.T) {
	s := NewStub()

	_, err := s.Transcribe(context.Background(), []byte{0xff, 0xfe, 0x00, 0x81}, "wav")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStub_SynthesizeDeterministic(t *testing.T) {
	s := NewStub()
	ctx := context.Background()

	first, err := s.Synthesize(ctx, "Merged PR 412.", "alloy", "wav")
	require.NoError(t, err)
	second, err := s.Synthesize(ctx, "Merged PR 412.", "alloy", "wav")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "Merged PR 412.")
}
