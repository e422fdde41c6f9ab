package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/animagenius/animagenius-api/pkg/llm"
	log "github.com/sirupsen/logrus"
)

const (
	extractionModel = "openrouter/anthropic/claude-3.5-sonnet"
	blueprintModel  = "openrouter/openai/gpt-4"

	defaultStyle    = "professional"
	defaultTone     = "professional"
	defaultDuration = 300
)

var (
	ErrExtractionFailed   = errors.New("Failed to extract content with AI")
	ErrBlueprintFailed    = errors.New("Failed to generate video blueprint")
	ErrAllProvidersFailed = errors.New("All video providers failed")
)

const extractionSystemPrompt = `You are an expert content analyst. Extract and structure content for video generation.

Extract:
- Main text content
- Important headings and sections
- Key points and takeaways
- Any visual elements mentioned
- Document metadata

Return a JSON object with:
{
  "text": "cleaned main text content",
  "headings": ["heading 1", "heading 2"],
  "keyPoints": ["key point 1", "key point 2"],
  "images": ["image description 1"],
  "metadata": {
    "pageCount": number,
    "wordCount": number,
    "language": "detected language"
  }
}`

const blueprintSystemPrompt = `You are a professional video production expert. Create detailed video blueprints for AI video generation.

Create a comprehensive video blueprint that includes:
- Scene breakdown with timing
- Visual descriptions for each scene
- Transition effects
- Voice-over script with pacing
- Style guidelines

Return JSON format:
{
  "title": "video title",
  "scenes": [
    {
      "duration": seconds,
      "description": "detailed scene description",
      "visualElements": ["element 1", "element 2"],
      "transitions": "transition description"
    }
  ],
  "totalDuration": total_seconds,
  "style": "visual style description",
  "voiceOver": {
    "script": "complete voice over script",
    "tone": "professional/casual/energetic",
    "pacing": "slow/medium/fast"
  }
}`

type ExtractionMetadata struct {
	PageCount int    `json:"pageCount,omitempty"`
	WordCount int    `json:"wordCount"`
	Language  string `json:"language"`
}

// ContentExtraction is the structured content of an uploaded document.
type ContentExtraction struct {
	Text      string             `json:"text"`
	Headings  []string           `json:"headings"`
	KeyPoints []string           `json:"keyPoints"`
	Images    []string           `json:"images"`
	Metadata  ExtractionMetadata `json:"metadata"`
}

type Scene struct {
	Duration       int      `json:"duration"`
	Description    string   `json:"description"`
	VisualElements []string `json:"visualElements"`
	Transitions    string   `json:"transitions"`
}

type VoiceOver struct {
	Script string `json:"script"`
	Tone   string `json:"tone"`
	Pacing string `json:"pacing"`
}

// VideoBlueprint is the scene plan handed to a renderer.
type VideoBlueprint struct {
	Title         string    `json:"title"`
	Scenes        []Scene   `json:"scenes"`
	TotalDuration int       `json:"totalDuration"`
	Style         string    `json:"style"`
	VoiceOver     VoiceOver `json:"voiceOver"`
}

type BlueprintPreferences struct {
	Style    string `json:"style"`
	Duration int    `json:"duration"`
	Tone     string `json:"tone"`
}

// UploadedFile is a document read back from object storage.
type UploadedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type VideoResult struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Provider     string `json:"provider"`
}

// AIService runs extraction, blueprint generation and rendering.
type AIService struct {
	llm       llm.Client
	renderers []VideoRenderer
}

func NewAIService(client llm.Client, renderers []VideoRenderer) *AIService {
	return &AIService{llm: client, renderers: renderers}
}

// ProviderName reports which chat backend is configured.
func (s *AIService) ProviderName() string {
	if s.llm == nil {
		return ""
	}
	return s.llm.Name()
}

// ExtractContent analyses an uploaded file. A model answer that is not valid
// JSON is kept as plain text.
func (s *AIService) ExtractContent(ctx context.Context, file UploadedFile) (*ContentExtraction, error) {
	content := processFileContent(file)

	raw, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Model:       extractionModel,
		System:      extractionSystemPrompt,
		User:        fmt.Sprintf("Please analyze and extract content from this %s file content: %s", file.ContentType, content),
		MaxTokens:   3000,
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		log.Errorf("ExtractContent: %s: %v", file.Name, err)
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	extraction := &ContentExtraction{}
	if err := llm.DecodeJSON(raw, extraction); err != nil {
		log.Warnf("ExtractContent: response for %s is not JSON, using raw text: %v", file.Name, err)
		extraction = &ContentExtraction{
			Text:     raw,
			Metadata: ExtractionMetadata{WordCount: len(strings.Fields(content)), Language: "en"},
		}
	}
	extraction.normalize()
	return extraction, nil
}

// GenerateVideoBlueprint plans scenes for the extracted content. A model
// answer that is not valid JSON yields a single 30 second intro scene.
func (s *AIService) GenerateVideoBlueprint(ctx context.Context, content *ContentExtraction, prefs BlueprintPreferences) (*VideoBlueprint, error) {
	style := orDefault(prefs.Style, defaultStyle)
	tone := orDefault(prefs.Tone, defaultTone)
	duration := prefs.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	userPrompt := fmt.Sprintf(`Create a video blueprint for this content:

Title: %s
Key Points: %s
Content: %s

Preferences:
- Style: %s
- Target Duration: %d seconds
- Tone: %s`,
		firstSentence(content.Text), strings.Join(content.KeyPoints, ", "), truncate(content.Text, 2000),
		style, duration, tone)

	raw, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Model:       blueprintModel,
		System:      blueprintSystemPrompt,
		User:        userPrompt,
		MaxTokens:   4000,
		Temperature: 0.7,
		JSON:        true,
	})
	if err != nil {
		log.Errorf("GenerateVideoBlueprint: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrBlueprintFailed, err)
	}

	blueprint := &VideoBlueprint{}
	if err := llm.DecodeJSON(raw, blueprint); err != nil {
		log.Warnf("GenerateVideoBlueprint: response is not JSON, using fallback blueprint: %v", err)
		title := firstSentence(content.Text)
		if title == "" {
			title = "Generated Video"
		}
		return &VideoBlueprint{
			Title: title,
			Scenes: []Scene{{
				Duration:       30,
				Description:    "Introduction scene with key message",
				VisualElements: []string{"title text", "background graphics"},
				Transitions:    "fade in",
			}},
			TotalDuration: 30,
			Style:         defaultStyle,
			VoiceOver:     VoiceOver{Script: truncate(content.Text, 500), Tone: defaultTone, Pacing: "medium"},
		}, nil
	}
	if blueprint.TotalDuration == 0 {
		for _, scene := range blueprint.Scenes {
			blueprint.TotalDuration += scene.Duration
		}
	}
	return blueprint, nil
}

// DefaultBlueprint is used for projects without extracted content.
func DefaultBlueprint(title, description, style string) *VideoBlueprint {
	script := description
	if script == "" {
		script = "Welcome to this video presentation"
	}
	return &VideoBlueprint{
		Title: title,
		Scenes: []Scene{{
			Duration:       30,
			Description:    "Introduction scene with project title",
			VisualElements: []string{"title text", "background"},
			Transitions:    "fade in",
		}},
		TotalDuration: 30,
		Style:         orDefault(style, defaultStyle),
		VoiceOver:     VoiceOver{Script: script, Tone: defaultTone, Pacing: "medium"},
	}
}

// GenerateVideo tries each renderer in order and returns the first success.
func (s *AIService) GenerateVideo(ctx context.Context, blueprint *VideoBlueprint, projectID string) (*VideoResult, error) {
	for _, renderer := range s.renderers {
		url, err := renderer.Render(ctx, blueprint, projectID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warnf("GenerateVideo: provider %s failed for project %s: %v", renderer.Name(), projectID, err)
			continue
		}
		if url == "" {
			continue
		}
		log.Infof("GenerateVideo: project %s rendered by %s", projectID, renderer.Name())
		return &VideoResult{VideoURL: url, ThumbnailURL: ThumbnailURL(url), Provider: renderer.Name()}, nil
	}
	return nil, ErrAllProvidersFailed
}

// ThumbnailURL derives the poster image URL of a rendered video.
func ThumbnailURL(videoURL string) string {
	if strings.HasSuffix(videoURL, ".mp4") {
		return strings.TrimSuffix(videoURL, ".mp4") + "_thumb.jpg"
	}
	return videoURL + "_thumb.jpg"
}

func processFileContent(file UploadedFile) string {
	contentType := file.ContentType
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "application/pdf":
		return "PDF content extraction will be implemented here"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "DOCX content extraction will be implemented here"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "XLSX content extraction will be implemented here"
	case "text/plain", "text/markdown", "text/csv":
		return strings.ToValidUTF8(string(file.Data), "")
	default:
		return "Binary file - content extraction will be implemented based on file type"
	}
}

func (c *ContentExtraction) normalize() {
	if c.Headings == nil {
		c.Headings = []string{}
	}
	if c.KeyPoints == nil {
		c.KeyPoints = []string{}
	}
	if c.Images == nil {
		c.Images = []string{}
	}
	if c.Metadata.Language == "" {
		c.Metadata.Language = "en"
	}
}

func firstSentence(text string) string {
	if i := strings.IndexByte(text, '.'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
