// ABOUTME: OpenAI-backed STT/TTS providers using go-openai
// ABOUTME: Whisper for transcription, the speech endpoint for synthesis

package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Transcriber and Synthesizer through the OpenAI API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates a provider authenticated with apiKey.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey)}
}

// Transcribe runs Whisper over the audio payload.
func (o *OpenAI) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if format == "" {
		format = "wav"
	}
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(data),
		FilePath: "command." + format,
	})
	if err != nil {
		return "", fmt.Errorf("%w: transcription: %v", ErrUnavailable, err)
	}
	return resp.Text, nil
}

// Synthesize renders spoken audio for text in the requested voice/format.
func (o *OpenAI) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	if format == "" {
		format = string(openai.SpeechResponseFormatMp3)
	}
	stream, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis: %v", ErrUnavailable, err)
	}
	defer stream.Close()

	audio, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: reading synthesis stream: %v", ErrUnavailable, err)
	}
	return audio, nil
}
