package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrTranscriptionUnavailable means voice input cannot be turned into text.
var ErrTranscriptionUnavailable = errors.New("speech recognition unavailable, please type your instructions instead")

// Transcriber turns recorded audio into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// RemoteTranscriber sends audio to an OpenAI-compatible transcription endpoint.
type RemoteTranscriber struct {
	Model  string
	client *openai.Client
	ready  bool
}

func NewRemoteTranscriber(baseURL, apiKey, model string) *RemoteTranscriber {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(60 * time.Second),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		// Request paths resolve relative to the base, so it must end in a slash.
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &RemoteTranscriber{
		Model:  model,
		client: openai.NewClient(opts...),
		ready:  apiKey != "" && model != "",
	}
}

func (t *RemoteTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !t.ready {
		return "", ErrTranscriptionUnavailable
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}

	file := openai.FileParam(bytes.NewReader(audio), "voice"+audioExtension(mimeType), audioContentType(mimeType))
	res, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  file,
		Model: openai.F(openai.AudioModel(t.Model)),
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func audioContentType(mimeType string) string {
	if mimeType == "" {
		return "audio/webm"
	}
	return mimeType
}

func audioExtension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return ".m4a"
	default:
		return ".webm"
	}
}
