// Package acestep generates short audio clips through the ACE-Step v1.5
// REST API.
package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUseLocalFallback means no clip could be generated and the caller should
// synthesize the part locally instead.
var ErrUseLocalFallback = errors.New("acestep: use local fallback")

// Client communicates with the ACE-Step v1.5 REST API.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume mount point
	http      *http.Client
}

// NewClient creates an ACE-Step API client. An empty apiURL yields a client
// whose generation always falls back.
func NewClient(apiURL, apiKey, outputDir string) *Client {
	return &Client{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		outputDir: outputDir,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether an API URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.apiURL != "" }

// GenerateRequest contains parameters for music generation.
type GenerateRequest struct {
	Caption        string `json:"caption"`
	Lyrics         string `json:"lyrics"`
	Duration       int    `json:"audio_duration"`
	InferenceSteps int    `json:"inference_steps"`
	Seed           int    `json:"seed"`
	UseRandomSeed  bool   `json:"use_random_seed"`
	BatchSize      int    `json:"batch_size"`
	AudioFormat    string `json:"audio_format"`
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"` // 0=running, 1=success, 2=failed
	Result string `json:"result"` // JSON string with file info
}

type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
}

// Healthy reports whether the API answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitForHealthy blocks until the ACE-Step API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	log.Println("Waiting for ACE-Step API to be ready...")
	for {
		if c.Healthy(ctx) {
			log.Println("ACE-Step API is healthy")
			return nil
		}
		log.Printf("ACE-Step not ready, retrying in %s...", interval)
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Generate submits a music generation task and returns the task ID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, "/release_task", body)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	var result releaseResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.Code != 200 {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}

	return result.Data.TaskID, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(httpReq)
}

// PollUntilDone polls for task completion, returning the audio file path.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) (string, error) {
	reqBody, _ := json.Marshal(map[string][]string{
		"task_id_list": {taskID},
	})

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := c.post(ctx, "/query_result", reqBody)
		if err != nil {
			log.Printf("Poll error: %v, retrying...", err)
			if err := sleep(ctx, interval); err != nil {
				return "", err
			}
			continue
		}

		var result queryResp
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			log.Printf("Decode error: %v, retrying...", err)
			if err := sleep(ctx, interval); err != nil {
				return "", err
			}
			continue
		}

		if len(result.Data) > 0 {
			task := result.Data[0]
			switch task.Status {
			case 1: // success
				return c.extractAudioPath(ctx, task.Result)
			case 2: // failed
				return "", fmt.Errorf("generation failed for task %s", taskID)
			}
		}
		if err := sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// extractAudioPath parses the result JSON and returns the local file path.
func (c *Client) extractAudioPath(ctx context.Context, resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", fmt.Errorf("parse result items: %w", err)
	}

	if len(items) == 0 || items[0].File == "" {
		return "", fmt.Errorf("no audio file in result")
	}

	fileRef := items[0].File

	// ACE-Step returns paths like "/v1/audio?path=outputs/task_xxx/0.mp3";
	// prefer the shared volume when it is mounted.
	if u, err := url.Parse(fileRef); err == nil {
		if relPath := u.Query().Get("path"); relPath != "" && c.outputDir != "" {
			localPath := filepath.Join(c.outputDir, relPath)
			if _, err := os.Stat(localPath); err == nil {
				return localPath, nil
			}
		}
	}

	return c.downloadAudio(ctx, fileRef)
}

// downloadAudio fetches the audio file from the API and saves it locally.
func (c *Client) downloadAudio(ctx context.Context, fileRef string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+fileRef, nil)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	ext := ".mp3"
	if u, err := url.Parse(fileRef); err == nil {
		if e := filepath.Ext(u.Query().Get("path")); e != "" {
			ext = e
		}
	}
	tmpFile, err := os.CreateTemp("", "pulseforge-clip-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("write audio: %w", err)
	}

	tmpFile.Close()
	return tmpFile.Name(), nil
}
