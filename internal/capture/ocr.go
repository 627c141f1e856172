package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

// ErrOCRUnavailable means no text recognizer could be used.
var ErrOCRUnavailable = errors.New("text recognition unavailable, please type your instructions instead")

// Recognizer extracts plain text from an image data URI.
type Recognizer interface {
	Recognize(ctx context.Context, dataURI string) (string, error)
}

// ModelOCR asks the vision model to transcribe the text in an image.
type ModelOCR struct {
	Model   llms.Model
	Prompts *vision.PromptManager
}

func (m *ModelOCR) Recognize(ctx context.Context, dataURI string) (string, error) {
	prompt, err := m.Prompts.GetOCRPrompt()
	if err != nil {
		return "", err
	}
	resp, err := m.Model.GenerateContent(ctx, []llms.MessageContent{
		{
			Role: schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.ImageURLPart(dataURI),
			},
		},
	}, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ocr response had no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// TesseractOCR pipes the image through the tesseract binary.
type TesseractOCR struct {
	Binary string
}

func (t *TesseractOCR) Recognize(ctx context.Context, dataURI string) (string, error) {
	_, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", err
	}
	bin := t.Binary
	if bin == "" {
		bin = "tesseract"
	}

	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrOCRUnavailable
		}
		return "", fmt.Errorf("tesseract failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

// ChainOCR returns the first successful, non-empty recognition.
type ChainOCR []Recognizer

func (c ChainOCR) Recognize(ctx context.Context, dataURI string) (string, error) {
	var errs []error
	for _, r := range c {
		text, err := r.Recognize(ctx, dataURI)
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", nil
	}
	return "", errors.Join(append([]error{ErrOCRUnavailable}, errs...)...)
}
