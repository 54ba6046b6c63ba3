// Package quizgen generates multiple-choice comprehension questions from
// document text using the OpenAI chat completions API. Callers are
// expected to fall back to the static question set on any error; this
// package never degrades silently itself.
package quizgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"

	// maxPromptBytes bounds how much document text goes into the prompt.
	// Very long documents lose their tail; the quiz then covers the
	// prefix only, which is acceptable for these policy documents.
	maxPromptBytes = 6000

	requestTimeout = 60 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("question generator not configured")

type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// Client calls the OpenAI chat completions endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func New(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// NewWithBaseURL is used by tests to point the client at a fake endpoint.
func NewWithBaseURL(apiKey, model, baseURL string) *Client {
	c := New(apiKey, model)
	c.baseURL = baseURL
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type rawQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// Generate produces exactly count questions from the document text. Any
// malformed or incomplete model output is an error; the caller decides
// whether to fall back.
func (c *Client) Generate(ctx context.Context, content string, count int) ([]Question, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(content) > maxPromptBytes {
		content = content[:maxPromptBytes]
	}

	prompt := fmt.Sprintf(`Generate exactly %d multiple choice questions based on the following document content.
Each question should test understanding of key concepts.

Format your response as a JSON object with this structure:
{
  "questions": [
    {
      "question": "The question text",
      "options": ["Option A", "Option B", "Option C", "Option D"],
      "correct_answer": "The correct option text (must be one of the options)"
    }
  ]
}

Document content:
%s`, count, content)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an expert educator creating quiz questions."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.7,
		MaxTokens:      2000,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("openai error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("openai response has no choices")
	}

	raw, err := parseQuestions(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return validate(raw, count)
}

// parseQuestions accepts either {"questions":[...]} or a bare array.
func parseQuestions(content string) ([]rawQuestion, error) {
	content = strings.TrimSpace(content)
	var wrapped struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && len(wrapped.Questions) > 0 {
		return wrapped.Questions, nil
	}
	var bare []rawQuestion
	if err := json.Unmarshal([]byte(content), &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	return nil, errors.New("model output is not a question list")
}

func validate(raw []rawQuestion, count int) ([]Question, error) {
	if len(raw) < count {
		return nil, fmt.Errorf("model returned %d questions, want %d", len(raw), count)
	}
	questions := make([]Question, 0, count)
	for i, q := range raw[:count] {
		if strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("question %d has empty text", i+1)
		}
		if len(q.Options) != 4 {
			return nil, fmt.Errorf("question %d has %d options, want 4", i+1, len(q.Options))
		}
		seen := map[string]bool{}
		answerFound := false
		for _, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return nil, fmt.Errorf("question %d has an empty option", i+1)
			}
			if seen[opt] {
				return nil, fmt.Errorf("question %d has duplicate option %q", i+1, opt)
			}
			seen[opt] = true
			if opt == q.CorrectAnswer {
				answerFound = true
			}
		}
		if !answerFound {
			return nil, fmt.Errorf("question %d correct answer is not among its options", i+1)
		}
		questions = append(questions, Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Question:      q.Question,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
		})
	}
	return questions, nil
}
