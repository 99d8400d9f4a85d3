// Package genai wraps the Google generative-language API used to convert
// operator prose into an HTML email template. The dispatch engine never
// talks to this service; it only consumes the returned template string.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// instructionPrefix constrains the model to return only the HTML email body,
// with recipient names and company names replaced by placeholder tokens that
// the dispatch renderer understands.
const instructionPrefix = `Your task: Convert the following email into a professional HTML email body ONLY.

Strict rules:
- Only return HTML content of the email body.
- Do NOT include subject lines, CSS, tables, images, or any extra placeholders.
- Replace any recipient's name with {name}.
- Replace any company names with {company}.
- Bold key terms using <b> tags.
- Do NOT add, remove, or hallucinate content. Preserve the original meaning.
- Do NOT include anything else besides the HTML of the email body.

Email to convert:
`

const defaultModel = "gemini-2.5-flash"

// Client calls the generative-language generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. An empty model selects the default.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateTemplate submits the instruction prefix plus the operator's prose
// and returns the first candidate's text as the template string.
func (c *Client) GenerateTemplate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: instructionPrefix + "\n" + prompt}}}},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generative API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generative API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("generative API response decode failed: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generative API returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
