// Package suggest generates candidate task lines for a free-text goal
// via a Gemini-style generateContent endpoint. Suggestions are never
// persisted here; the caller saves chosen ones through the task API.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Service calls the configured generation endpoint.
type Service struct {
	apiURL string
	apiKey string
	client *http.Client
}

func New(apiURL, apiKey string) *Service {
	return &Service{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured reports whether an API key is available.
func (s *Service) IsConfigured() bool {
	return s.apiKey != ""
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
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate returns one suggested task per line. A nil slice with a nil
// error means the model judged the topic not actionable.
func (s *Service) Generate(ctx context.Context, topic string, count int) ([]string, error) {
	prompt := buildPrompt(topic, count)

	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"?key="+s.apiKey, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation api status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := ""
	if len(decoded.Candidates) > 0 && len(decoded.Candidates[0].Content.Parts) > 0 {
		text = decoded.Candidates[0].Content.Parts[0].Text
	}
	if strings.TrimSpace(text) == "false" {
		return nil, nil
	}

	var tasks []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			tasks = append(tasks, trimmed)
		}
	}
	return tasks, nil
}

func buildPrompt(topic string, count int) string {
	quantity := "as many concise, actionable tasks as possible"
	if count > 0 {
		quantity = "a list of " + strconv.Itoa(count) + " concise, actionable tasks"
	}
	return "If no actionable tasks can be generated for this goal: " + topic +
		", return 'false' (nothing other than 'false'). Otherwise generate " + quantity +
		" to achieve " + topic + ". Return each task as a separate line, with no numbering" +
		" and no formatting; each line must be a single actionable task."
}
