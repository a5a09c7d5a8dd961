package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Caption suggestions
// Given a still image, ask a vision model for a short top caption.
// ---------------------------------------------------------------------------

const suggestPrompt = `You write the bold caption shown above short vertical videos.
Look at the image and reply with ONE caption of at most 12 words.
Plain text only: no quotes, no hashtags, no emojis.`

// CaptionSuggester proposes caption text for an image file.
type CaptionSuggester interface {
	Suggest(ctx context.Context, imagePath string) (string, error)
}

type OpenAISuggester struct {
	client *openai.Client
	model  string
}

func NewOpenAISuggester(apiKey, model string) *OpenAISuggester {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISuggester{client: openai.NewClient(apiKey), model: model}
}

func (s *OpenAISuggester) Suggest(ctx context.Context, imagePath string) (string, error) {
	data, mime, err := readImage(imagePath)
	if err != nil {
		return "", err
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: suggestPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Caption this."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		MaxTokens: 60,
	})
	if err != nil {
		return "", fmt.Errorf("openai caption suggestion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return cleanSuggestion(resp.Choices[0].Message.Content)
}

type GeminiSuggester struct {
	apiKey string
	model  string
}

func NewGeminiSuggester(apiKey, model string) *GeminiSuggester {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiSuggester{apiKey: apiKey, model: model}
}

func (s *GeminiSuggester) Suggest(ctx context.Context, imagePath string) (string, error) {
	data, mime, err := readImage(imagePath)
	if err != nil {
		return "", err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mime),
			genai.NewPartFromText(suggestPrompt),
		}, genai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini caption suggestion failed: %w", err)
	}
	return cleanSuggestion(resp.Text())
}

func readImage(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("unsupported image type %s", mime)
	}
	return data, mime, nil
}

// cleanSuggestion trims model output down to a single caption line.
func cleanSuggestion(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "\"'“”")
	if s == "" {
		return "", fmt.Errorf("model returned an empty caption")
	}
	return s, nil
}
