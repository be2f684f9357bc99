package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/cache"
	"stockia/backend/internal/capture"
	"stockia/backend/internal/logging"
)

const (
	DefaultModel         = "gemini-2.0-flash"
	DefaultBaseURL       = "https://generativelanguage.googleapis.com"
	DefaultSearchBaseURL = "https://www.googleapis.com"
	DefaultTimeout       = 30 * time.Second

	maxResponseBytes = 4 << 20
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	SearchAPIKey   string
	SearchEngineID string
	SearchBaseURL  string

	Timeout    time.Duration
	HTTPClient *http.Client

	Cache    cache.ReferenceImageCache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Client talks to the inference and image-search APIs.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  cache.ReferenceImageCache
	logger *zap.Logger
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SearchBaseURL == "" {
		cfg.SearchBaseURL = DefaultSearchBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SearchBaseURL = strings.TrimRight(cfg.SearchBaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	refCache := cfg.Cache
	if refCache == nil {
		refCache = cache.NoopReferenceImageCache{}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		cache:  refCache,
		logger: logging.OrNop(cfg.Logger).Named("gateway"),
	}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// AnalyzeImage sends one inference request and returns the first JSON object
// found in the answer. Every failure is a *Error.
func (c *Client) AnalyzeImage(ctx context.Context, prompt string, image *capture.Image) (ParsedFields, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, &Error{Reason: ReasonMissingCredential}
	}

	parts := []part{{Text: prompt}}
	if image != nil && len(image.Bytes) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: image.MimeType,
			Data:     base64.StdEncoding.EncodeToString(image.Bytes),
		}})
	}
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     0.4,
			TopK:            32,
			TopP:            1,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return nil, &Error{Reason: ReasonMalformedPayload, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Reason: ReasonHTTP, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("inference request failed", zap.Int("status", resp.StatusCode))
		return nil, &Error{Reason: ReasonHTTP, Status: resp.StatusCode}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &Error{Reason: ReasonMalformedPayload, Err: err}
	}
	text := candidateText(decoded)
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Reason: ReasonEmptyResponse}
	}

	fields, ok := extractJSON(text)
	if !ok {
		return nil, &Error{Reason: ReasonMalformedPayload, Err: errors.New("no JSON object in answer")}
	}
	return fields, nil
}

func candidateText(resp generateResponse) string {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return resp.Candidates[0].Content.Parts[0].Text
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: ReasonTimeout, Err: err}
	}
	return &Error{Reason: ReasonHTTP, Err: err}
}

type searchResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

// SearchReferenceImage returns the first image-search hit for query, or ""
// when there is none or anything goes wrong.
func (c *Client) SearchReferenceImage(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" || c.cfg.SearchAPIKey == "" || c.cfg.SearchEngineID == "" {
		return ""
	}

	if cached, ok, err := c.cache.Get(ctx, query); err == nil && ok {
		return cached
	} else if err != nil {
		c.logger.Debug("reference cache read failed", zap.Error(err))
	}

	link, err := c.searchImage(ctx, query)
	if err != nil {
		c.logger.Debug("reference image lookup failed", zap.String("query", query), zap.Error(err))
		return ""
	}
	if link != "" {
		if err := c.cache.Set(ctx, query, link, c.cfg.CacheTTL); err != nil {
			c.logger.Debug("reference cache write failed", zap.Error(err))
		}
	}
	return link
}

func (c *Client) searchImage(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("key", c.cfg.SearchAPIKey)
	params.Set("cx", c.cfg.SearchEngineID)
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SearchBaseURL+"/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var decoded searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return "", err
	}
	if len(decoded.Items) == 0 {
		return "", nil
	}
	return decoded.Items[0].Link, nil
}
