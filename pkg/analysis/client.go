package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/errors"
)

// Config holds analysis service configuration.
type Config struct {
	APIKey      string        `json:"-"`
	APIURL      string        `json:"api_url"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultConfig returns the default analysis configuration, targeting a
// Groq-hosted OpenAI-compatible chat completions endpoint.
func DefaultConfig() Config {
	return Config{
		APIURL:      "https://api.groq.com/openai/v1/chat/completions",
		Model:       "llama3-8b-8192",
		Temperature: 0.2,
		MaxTokens:   1024,
		Timeout:     15 * time.Second,
	}
}

// ChatClient implements coach.Analyzer against an OpenAI-compatible chat
// completions API. The model is instructed to return the coaching object
// as a single JSON document.
type ChatClient struct {
	logger     *logrus.Logger
	config     Config
	httpClient *http.Client
}

// NewChatClient creates a chat-completions analysis client.
func NewChatClient(logger *logrus.Logger, config Config) (*ChatClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("analysis API key is not set")
	}
	defaults := DefaultConfig()
	if config.APIURL == "" {
		config.APIURL = defaults.APIURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	logger.WithFields(logrus.Fields{
		"api_url": config.APIURL,
		"model":   config.Model,
	}).Info("Analysis client initialized")

	return &ChatClient{
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

const systemPrompt = `You are a conversation analyst. Analyze the following transcription and provide metrics in JSON format. The "user" is the primary speaker. Identify interruptions and estimate the talk/listen ratio in seconds. Provide a concise, actionable coaching tip. Respond with a JSON object of the form {"talkListenRatio":{"user":number,"others":number},"interruptions":{"user":number,"others":number},"analysis":string}.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage  `json:"messages"`
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	TopP           float64        `json:"top_p"`
	Stream         bool           `json:"stream"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze requests a coaching analysis for the cumulative session material.
// An empty transcript short-circuits to the deterministic default without
// calling out. A single attempt is made; retry policy belongs to callers.
func (c *ChatClient) Analyze(ctx context.Context, req coach.AnalysisRequest) (coach.AnalysisResult, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return coach.AnalysisResult{Analysis: coach.DefaultAnalysis}, nil
	}

	userContent := fmt.Sprintf(
		"Transcription: %q\nCumulative data: user speaking time %.1fs of %.1fs total, user interrupted others %d times, user was interrupted %d times.",
		req.Transcript,
		req.UserSpeakingTime,
		req.TotalSpeakingTime,
		req.UserInterruptionCount,
		req.OtherInterruptionCount,
	)

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Model:          c.config.Model,
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		TopP:           1,
		Stream:         false,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return coach.AnalysisResult{}, errors.Wrap(err, "marshal analysis request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return coach.AnalysisResult{}, errors.Wrap(err, "create analysis request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return coach.AnalysisResult{}, errors.Wrap(err, "send analysis request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return coach.AnalysisResult{}, errors.New("analysis API returned non-200 status", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(snippet),
		})
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return coach.AnalysisResult{}, errors.Wrap(err, "decode analysis response")
	}
	if len(chatResp.Choices) == 0 {
		return coach.AnalysisResult{}, errors.New("analysis response contained no choices")
	}

	var result coach.AnalysisResult
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &result); err != nil {
		return coach.AnalysisResult{}, errors.Wrap(err, "parse coaching object")
	}
	if result.Analysis == "" {
		result.Analysis = "Keep up the balanced conversation!"
	}

	c.logger.WithFields(logrus.Fields{
		"transcript_len": len(req.Transcript),
		"analysis_len":   len(result.Analysis),
	}).Debug("Coaching analysis received")

	return result, nil
}
