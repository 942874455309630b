package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// maxChunkChars bounds the size of one text translation request.
	maxChunkChars = 4000

	// streamScanBuffer sizes the NDJSON line buffer for document streams.
	streamScanBuffer = 1 << 20
)

// TranslateClient calls an HTTP translation engine. Document inputs use a
// streaming endpoint that reports progress as NDJSON events; text inputs
// are split into chunks and translated concurrently.
type TranslateClient struct {
	httpClient *http.Client
	limiter    *Limiter
}

// NewTranslateClient creates a TranslateClient. A nil httpClient falls back
// to http.DefaultClient; a nil limiter disables cross-task call limiting.
func NewTranslateClient(httpClient *http.Client, limiter *Limiter) *TranslateClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TranslateClient{httpClient: httpClient, limiter: limiter}
}

// Execute implements Provider. The request must carry either Document
// bytes or Content text.
func (c *TranslateClient) Execute(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	endpoint := strings.TrimRight(req.Settings.ExtraString("endpoint"), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: translation endpoint is not set", ErrNotConfigured)
	}

	switch {
	case req.Content != "":
		return c.translateContent(ctx, endpoint, req, onProgress)
	case len(req.Document) > 0:
		return c.translateDocument(ctx, endpoint, req, onProgress)
	default:
		return nil, fmt.Errorf("translate request carries no input")
	}
}

// streamEvent is one NDJSON line from the document translation stream.
type streamEvent struct {
	Event    string            `json:"event"`
	Stage    string            `json:"stage"`
	Progress float64           `json:"progress"`
	Message  string            `json:"message"`
	Outputs  map[string]string `json:"outputs"`
}

func (c *TranslateClient) translateDocument(ctx context.Context, endpoint string, req Request, onProgress ProgressFunc) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
		"engine":      req.Settings.Engine,
		"model":       req.Settings.Model,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("building translation request: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("building translation request: %w", err)
	}
	if _, err := part.Write(req.Document); err != nil {
		return nil, fmt.Errorf("building translation request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building translation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/translate/document", &body)
	if err != nil {
		return nil, fmt.Errorf("building translation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(httpReq, req.Settings)

	release, err := c.acquire(ctx, req.Settings)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling translation engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("translation", resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), streamScanBuffer)

	var result *Result
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Event {
		case "progress":
			if onProgress != nil {
				onProgress(Progress{Stage: event.Stage, Overall: event.Progress})
			}
		case "error":
			return nil, &APIError{Provider: "translation", Message: event.Message}
		case "result":
			outputs, err := decodeOutputs(event.Outputs)
			if err != nil {
				return nil, err
			}
			result = &Result{Outputs: outputs}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading translation stream: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: stream ended without a result event", ErrNoResult)
	}
	return result, nil
}

func (c *TranslateClient) translateContent(ctx context.Context, endpoint string, req Request, onProgress ProgressFunc) (*Result, error) {
	chunks := splitChunks(req.Content, maxChunkChars)
	if len(chunks) == 0 {
		return &Result{Content: req.Content}, nil
	}

	release, err := c.acquire(ctx, req.Settings)
	if err != nil {
		return nil, err
	}
	defer release()

	threads := req.Settings.Threads
	if threads < 1 {
		threads = 1
	}

	translated := make([]string, len(chunks))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := c.translateChunk(gctx, endpoint, req, chunk)
			if err != nil {
				return err
			}
			translated[i] = out
			if onProgress != nil {
				onProgress(Progress{
					Stage:      "translating",
					Overall:    100 * float64(done.Add(1)) / float64(len(chunks)),
					TotalParts: len(chunks),
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Content: strings.Join(translated, "\n\n")}, nil
}

func (c *TranslateClient) translateChunk(ctx context.Context, endpoint string, req Request, chunk string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"text":        chunk,
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
		"model":       req.Settings.Model,
	})
	if err != nil {
		return "", fmt.Errorf("building translation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/translate/text", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building translation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq, req.Settings)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling translation engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("translation", resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding translation response: %w", err)
	}
	return out.Text, nil
}

func (c *TranslateClient) authorize(req *http.Request, settings Settings) {
	token := settings.ExtraString("api_token")
	if token == "" {
		token = settings.ExtraString("api_key")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *TranslateClient) acquire(ctx context.Context, settings Settings) (func(), error) {
	if c.limiter == nil {
		return func() {}, nil
	}
	limit := 1
	if v, ok := settings.Extra["max_concurrent_calls"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	key := settings.Engine
	if key == "" {
		key = "translate"
	}
	return c.limiter.Acquire(ctx, key, limit)
}

// splitChunks breaks text into paragraph-aligned chunks of at most maxChars
// characters. A single paragraph longer than maxChars becomes its own
// chunk unmodified.
func splitChunks(text string, maxChars int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func decodeOutputs(encoded map[string]string) (map[string][]byte, error) {
	outputs := make(map[string][]byte, len(encoded))
	for name, data := range encoded {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s output: %w", name, err)
		}
		outputs[name] = raw
	}
	return outputs, nil
}

func apiError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}
