package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxWait      = 10 * time.Minute
)

// ExtractClient drives an asynchronous extraction vendor: it submits the
// document by URL, polls the job until it settles, then downloads the
// result archive and pulls the markdown out of it.
type ExtractClient struct {
	httpClient   *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewExtractClient creates an ExtractClient with the default poll cadence.
// A nil httpClient falls back to http.DefaultClient.
func NewExtractClient(httpClient *http.Client) *ExtractClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ExtractClient{
		httpClient:   httpClient,
		pollInterval: defaultPollInterval,
		maxWait:      defaultMaxWait,
	}
}

type extractJob struct {
	TaskID     string  `json:"task_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	FullZipURL string  `json:"full_zip_url"`
	ErrMsg     string  `json:"error"`
}

type extractEnvelope struct {
	Data extractJob `json:"data"`
	extractJob
}

func (e *extractEnvelope) job() extractJob {
	if e.Data.TaskID != "" || e.Data.Status != "" {
		return e.Data
	}
	return e.extractJob
}

// Execute implements Provider. The request must carry a DocumentURL the
// vendor can fetch.
func (c *ExtractClient) Execute(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	base := strings.TrimRight(req.Settings.ExtraString("endpoint"), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: extraction endpoint is not set", ErrNotConfigured)
	}
	if req.DocumentURL == "" {
		return nil, fmt.Errorf("extract request carries no document URL")
	}

	jobID, err := c.submit(ctx, base, req)
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(Progress{Stage: "submitted", Overall: 0, JobID: jobID})
	}

	job, err := c.await(ctx, base, req.Settings, jobID, onProgress)
	if err != nil {
		return nil, err
	}

	if job.FullZipURL == "" {
		return nil, fmt.Errorf("%w: extraction finished without an archive", ErrNoResult)
	}
	archive, err := c.download(ctx, job.FullZipURL)
	if err != nil {
		return nil, err
	}
	markdown, err := markdownFromArchive(archive)
	if err != nil {
		return nil, err
	}

	return &Result{Content: markdown, Archive: archive, JobID: jobID}, nil
}

func (c *ExtractClient) submit(ctx context.Context, base string, req Request) (string, error) {
	modelVersion := req.Settings.ExtraString("model_version")
	if modelVersion == "" {
		modelVersion = req.Settings.Model
	}
	payload, err := json.Marshal(map[string]any{
		"url":           req.DocumentURL,
		"model_version": modelVersion,
		"return_images": true,
	})
	if err != nil {
		return "", fmt.Errorf("building extract request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/extract/task", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building extract request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq, req.Settings)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submitting extract job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("extraction", resp)
	}

	var envelope extractEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decoding extract response: %w", err)
	}
	job := envelope.job()
	if job.TaskID == "" {
		return "", &APIError{Provider: "extraction", Message: "submit response carries no job id"}
	}
	return job.TaskID, nil
}

// await polls the job until it reaches a terminal status, the deadline
// passes, or ctx is canceled.
func (c *ExtractClient) await(ctx context.Context, base string, settings Settings, jobID string, onProgress ProgressFunc) (*extractJob, error) {
	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.poll(ctx, base, settings, jobID)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(job.Status) {
		case "completed", "success", "done":
			if onProgress != nil {
				onProgress(Progress{Stage: "extracted", Overall: 100, JobID: jobID})
			}
			return job, nil
		case "failed", "error":
			msg := job.ErrMsg
			if msg == "" {
				msg = "extraction job failed"
			}
			return nil, &APIError{Provider: "extraction", Message: msg}
		}

		if onProgress != nil {
			onProgress(Progress{Stage: "extracting", Overall: job.Progress, JobID: jobID})
		}
		if time.Now().After(deadline) {
			return nil, &APIError{Provider: "extraction", Message: fmt.Sprintf("job %s did not finish within %s", jobID, c.maxWait)}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *ExtractClient) poll(ctx context.Context, base string, settings Settings, jobID string) (*extractJob, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/extract/task/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("building extract poll request: %w", err)
	}
	c.authorize(httpReq, settings)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("polling extract job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("extraction", resp)
	}

	var envelope extractEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding extract poll response: %w", err)
	}
	job := envelope.job()
	return &job, nil
}

func (c *ExtractClient) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building archive download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("downloading extract archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("extraction", resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *ExtractClient) authorize(req *http.Request, settings Settings) {
	if token := settings.ExtraString("api_token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// markdownFromArchive returns the contents of the first markdown file found
// in the archive, preferring one named full.md.
func markdownFromArchive(archive []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", fmt.Errorf("opening extract archive: %w", err)
	}

	var fallback *zip.File
	for _, f := range reader.File {
		if !strings.HasSuffix(f.Name, ".md") {
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(pathBase(f.Name), ".md"), "full") {
			return readZipFile(f)
		}
		if fallback == nil {
			fallback = f
		}
	}
	if fallback != nil {
		return readZipFile(fallback)
	}
	return "", fmt.Errorf("%w: archive contains no markdown", ErrNoResult)
}

func readZipFile(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("reading %s from archive: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading %s from archive: %w", f.Name, err)
	}
	return string(data), nil
}

func pathBase(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
