package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
)

const (
	jpegQuality = 85

	visionPrompt = "Transcribe the text visible in this image. " +
		"If there is no text, describe what the image shows in two or three sentences."
)

// Vision turns an image into text
type Vision interface {
	Describe(ctx context.Context, jpegData []byte) (string, error)
}

// ImageReader downsizes images and asks a vision model for their text
type ImageReader struct {
	Vision   Vision
	MaxWidth int
}

func (r ImageReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	data, err := readHead(fs, path, 32*1024*1024)
	if err != nil {
		return "", err
	}
	if mtype := mimetype.Detect(data); !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("content is %s, not an image", mtype.String())
	}

	scaled, err := resizeJPEG(data, r.MaxWidth)
	if err != nil {
		return "", err
	}
	return r.Vision.Describe(ctx, scaled)
}

// resizeJPEG scales img down to maxWidth keeping its aspect ratio and
// re-encodes it as JPEG
func resizeJPEG(data []byte, maxWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if maxWidth > 0 && bounds.Dx() > maxWidth {
		height := uint(float64(maxWidth) * float64(bounds.Dy()) / float64(bounds.Dx()))
		img = resize.Resize(uint(maxWidth), height, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// OpenAIVision describes images with an OpenAI-compatible chat model
type OpenAIVision struct {
	client *openai.Client
	model  string
}

// NewOpenAIVision creates a vision client. baseURL may be empty.
func NewOpenAIVision(apiKey, baseURL, model string) *OpenAIVision {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIVision{client: openai.NewClientWithConfig(cfg), model: model}
}

func (v *OpenAIVision) Describe(ctx context.Context, jpegData []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
		MaxTokens: 800,
	})
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision request: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
