package analyzer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

const defaultPrompt = `Door camera frames from apartment building hallway. Auto-lighting = some frames dark/bright.

OUTPUT ONLY JSON, nothing else:
{"has_activity":bool,"has_person":bool,"has_vehicle":bool,"has_animal":bool,"has_delivery":bool,"is_false_positive":bool,"confidence":"high/medium/low","description":"brief"}

has_activity=true if person/vehicle/animal/delivery. is_false_positive=true if only lighting/shadows.`

// Analyzer classifies recordings via an OpenAI-compatible vision API. It
// builds composite grids from a recording's screenshots, sends them to the
// model and merges the per-grid answers. Classification failures fail open:
// the recording is kept.
type Analyzer struct {
	cfg        models.LLMConfig
	dir        string
	httpClient *http.Client
	prompt     string

	mu      sync.Mutex
	pending map[string]struct{}

	sem chan struct{}
	now func() time.Time
}

func New(cfg models.LLMConfig, recordingsDir string) *Analyzer {
	prompt := cfg.CustomPrompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Analyzer{
		cfg:        cfg,
		dir:        recordingsDir,
		httpClient: &http.Client{Timeout: timeout},
		prompt:     prompt,
		pending:    make(map[string]struct{}),
		sem:        make(chan struct{}, maxConcurrent),
		now:        time.Now,
	}
}

// TryStart reserves the filename for one analysis run. At most one analysis
// per filename may be outstanding.
func (a *Analyzer) TryStart(filename string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pending[filename]; ok {
		return false
	}
	a.pending[filename] = struct{}{}
	return true
}

// Finish releases the filename reservation.
func (a *Analyzer) Finish(filename string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, filename)
}

// Pending reports whether an analysis is in flight for the filename.
func (a *Analyzer) Pending(filename string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[filename]
	return ok
}

// Analyze classifies one recording from its screenshots. It blocks for the
// duration of the API call(s); callers run it on their own goroutine. Total
// concurrent analyses are bounded by the semaphore.
func (a *Analyzer) Analyze(filename string, screenshots []string) models.AnalysisResult {
	a.sem <- struct{}{}
	defer func() { <-a.sem }()

	if !a.cfg.Enabled {
		return a.failResult("LLM analysis disabled", "LLM analysis is disabled")
	}
	if len(screenshots) == 0 {
		return a.failResult("No screenshots available", "No screenshots to analyze")
	}

	logger.Infof("analyzing recording: %s (%d screenshots)", filename, len(screenshots))

	var paths []string
	for _, shot := range screenshots {
		p := filepath.Join(a.dir, shot)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return a.failResult("Analysis failed", "no valid screenshot files found")
	}

	composites, err := compositeImages(paths, 1920, 1080)
	if err != nil {
		logger.Errorf("llm analysis failed for %s: %v", filename, err)
		return a.failResult("Analysis failed", err.Error())
	}

	var results []rawResult
	for i, img := range composites {
		res, err := a.callAPI(img, i+1, len(composites))
		if err != nil {
			logger.Errorf("llm analysis failed for %s: %v", filename, err)
			return a.failResult("Analysis failed", err.Error())
		}
		results = append(results, res)
	}

	return a.mergeResults(results)
}

// mergeResults combines per-composite answers: real activity in any grid
// clears the false-positive verdict, the lowest confidence wins, and
// detection flags are OR-ed.
func (a *Analyzer) mergeResults(results []rawResult) models.AnalysisResult {
	merged := models.AnalysisResult{
		IsFalsePositive: true,
		Confidence:      "high",
		AnalyzedAt:      a.now().Format(time.RFC3339),
		ModelUsed:       a.cfg.Model,
	}

	var descriptions []string
	for _, r := range results {
		if !r.IsFalsePositive {
			merged.IsFalsePositive = false
		}
		if confidenceRank(r.Confidence) < confidenceRank(merged.Confidence) {
			merged.Confidence = r.Confidence
		}
		if r.Description != "" {
			descriptions = append(descriptions, r.Description)
		}
		merged.HasActivity = merged.HasActivity || r.HasActivity
		merged.HasPerson = merged.HasPerson || r.HasPerson
		merged.HasVehicle = merged.HasVehicle || r.HasVehicle
		merged.HasAnimal = merged.HasAnimal || r.HasAnimal
		merged.HasDelivery = merged.HasDelivery || r.HasDelivery
	}
	merged.Description = strings.Join(descriptions, " | ")

	return merged
}

func confidenceRank(c string) int {
	switch c {
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

// failResult is the safe default on any analysis failure: keep the recording.
func (a *Analyzer) failResult(description, errMsg string) models.AnalysisResult {
	return models.AnalysisResult{
		IsFalsePositive: false,
		Confidence:      "low",
		Description:     description,
		AnalyzedAt:      a.now().Format(time.RFC3339),
		ModelUsed:       a.cfg.Model,
		Error:           errMsg,
	}
}

// rawResult is the JSON the model is asked to emit.
type rawResult struct {
	IsFalsePositive bool   `json:"is_false_positive"`
	Confidence      string `json:"confidence"`
	Description     string `json:"description"`
	HasActivity     bool   `json:"has_activity"`
	HasPerson       bool   `json:"has_person"`
	HasVehicle      bool   `json:"has_vehicle"`
	HasAnimal       bool   `json:"has_animal"`
	HasDelivery     bool   `json:"has_delivery"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// callAPI sends one composite to the vision endpoint, retrying up to
// MaxRetries with no backoff.
func (a *Analyzer) callAPI(imagePNG []byte, part, total int) (rawResult, error) {
	prompt := a.prompt
	if total > 1 {
		prompt += fmt.Sprintf("\n\n(This is part %d of %d from a longer recording)", part, total)
	}

	req := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG),
				}},
			},
		}},
		Temperature: 0.1, // low temperature for consistent classification
	}

	body, err := json.Marshal(req)
	if err != nil {
		return rawResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		content, err := a.post(body)
		if err != nil {
			lastErr = err
			logger.Warnf("llm api error (attempt %d/%d): %v", attempt, a.cfg.MaxRetries, err)
			continue
		}
		return parseResponse(content), nil
	}

	return rawResult{}, fmt.Errorf("llm api failed after %d attempts: %w", a.cfg.MaxRetries, lastErr)
}

func (a *Analyzer) post(body []byte) (string, error) {
	req, err := http.NewRequest(http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api returned status %d: %.200s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpenRe  = regexp.MustCompile(`(?s)<think>.*`)
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// parseResponse extracts the JSON verdict from whatever the model wrapped it
// in: thinking tags, markdown fences, prose. Unparseable content degrades to
// a keep-the-recording default with the raw text as description.
func parseResponse(content string) rawResult {
	content = strings.TrimSpace(content)

	content = thinkBlockRe.ReplaceAllString(content, "")
	content = thinkOpenRe.ReplaceAllString(content, "")

	if strings.Contains(content, "```") {
		if m := codeFenceRe.FindStringSubmatch(content); m != nil {
			content = m[1]
		} else {
			content = strings.ReplaceAll(content, "```json", "")
			content = strings.ReplaceAll(content, "```", "")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		var res rawResult
		if err := json.Unmarshal([]byte(content[start:end+1]), &res); err == nil {
			return res
		}
	}

	logger.Warnf("could not parse llm response as json: %.200s", content)
	desc := content
	if len(desc) > 500 {
		desc = desc[:500]
	}
	if desc == "" {
		desc = "Could not parse response"
	}
	return rawResult{IsFalsePositive: false, Confidence: "low", Description: desc}
}

// TestConnection sends a minimal request to verify the endpoint is reachable.
func (a *Analyzer) TestConnection() (bool, string) {
	req := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []chatContent{{Type: "text", Text: "test"}},
		}},
		MaxTokens: 1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return false, err.Error()
	}

	httpReq, err := http.NewRequest(http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return false, fmt.Sprintf("could not connect to api: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return false, fmt.Sprintf("api returned status %d: %s", resp.StatusCode, string(data))
	}
	return true, fmt.Sprintf("connected to %s", a.cfg.APIURL)
}
