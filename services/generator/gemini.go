// Package gensvc implements attendance.TextGenerator on top of the Gemini API.
package gensvc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
)

const apiVersion = "v1beta"

var (
	ErrEmptyResponse = errors.New("generation returned no text")

	backoffBase = 500 * time.Millisecond // mockable
)

type GeminiClient struct {
	models     *genai.Models
	model      string
	maxRetries int
	logger     core.Logger
}

var _ attendance.TextGenerator = (*GeminiClient)(nil) // interface compliance check

func NewGeminiClient(conf *core.Config, logger core.Logger) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:     conf.Analysis.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(conf.Analysis.GeminiBaseURL, "/"),
			APIVersion: apiVersion,
		},
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, errors.Wrap(err, "creating Gemini client")
	}
	return &GeminiClient{
		models:     client.Models,
		model:      conf.Analysis.GeminiModel,
		maxRetries: conf.Analysis.MaxRetries,
		logger:     logger,
	}, nil
}

// Generate sends prompt as a single user turn and returns the concatenated text of the first candidate.
// Transport errors, 429s and 5xx are retried with exponential backoff until ctx is done.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	var (
		res *genai.GenerateContentResponse
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = c.models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		if err == nil {
			break
		}
		if attempt >= c.maxRetries || !retryable(err) || ctx.Err() != nil {
			return "", errors.Wrap(err, "generating content")
		}

		wait := backoffBase * time.Duration(1<<attempt)
		c.logger.Warn(fmt.Sprintf("generation attempt %d failed, retrying in %s: %v", attempt+1, wait, err))
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "waiting to retry generation")
		case <-time.After(wait):
		}
	}
	return responseText(res)
}

func responseText(res *genai.GenerateContentResponse) (string, error) {
	if res == nil {
		return "", ErrEmptyResponse
	}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return "", errors.Errorf("prompt blocked: %s", res.PromptFeedback.BlockReason)
	}
	if len(res.Candidates) == 0 || res.Candidates[0] == nil || res.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var text strings.Builder
	for _, p := range res.Candidates[0].Content.Parts {
		if p != nil {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}

// StatusCode returns the HTTP status of a failed generation call, if the API answered at all.
func StatusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// retryable reports whether a failed call is worth another attempt: rate limits, server errors and
// transport failures. Undecodable answers are not retried.
func retryable(err error) bool {
	if code, ok := StatusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
