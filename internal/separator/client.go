package separator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Client talks to the stem separation backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. Separation of a full song can take
// minutes, so timeout should be generous.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Stem is one separated track returned by an upload.
type Stem struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// UploadResult is the backend's answer to a successful upload.
type UploadResult struct {
	Path   string `json:"path"`
	Tracks []Stem `json:"tracks"`
}

// ExportTrack is one entry of the mixdown recipe.
type ExportTrack struct {
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
	Mute   bool    `json:"mute"`
}

// ExportRequest is the full mixdown recipe. SoloTrack is nil when no track is
// solo'd and encodes as JSON null.
type ExportRequest struct {
	SessionPath string        `json:"session_path"`
	Tracks      []ExportTrack `json:"tracks"`
	SoloTrack   *string       `json:"solo_track"`
}

type errorResp struct {
	Error string `json:"error"`
}

// UploadError reports a failed upload. Message is the server-reported error
// when one was returned.
type UploadError struct {
	Status  int
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return "upload failed: " + e.Err.Error()
	}
	return fmt.Sprintf("upload failed (status %d): %s", e.Status, e.Message)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ExportError reports a failed export.
type ExportError struct {
	Status  int
	Message string
	Err     error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return "export failed: " + e.Err.Error()
	}
	return fmt.Sprintf("export failed (status %d): %s", e.Status, e.Message)
}

func (e *ExportError) Unwrap() error { return e.Err }

// WaitForReady polls the backend until it answers or ctx expires.
// The backend is optional at startup, so this only reports.
func (c *Client) WaitForReady(ctx context.Context) bool {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/", nil)
		if err != nil {
			return false
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				log.Printf("Separation backend ready at %s", c.baseURL)
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Upload submits an audio file for separation.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(filename))
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("create form: %w", err)}
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &UploadError{Err: fmt.Errorf("read %s: %w", filename, err)}
	}
	if err := mw.Close(); err != nil {
		return nil, &UploadError{Err: fmt.Errorf("close form: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/upload", &body)
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("submit upload: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UploadError{Status: resp.StatusCode, Message: readError(resp.Body, "network error")}
	}

	var result struct {
		UploadResult
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &UploadError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.Error != "" {
		return nil, &UploadError{Status: resp.StatusCode, Message: result.Error}
	}
	if result.Path == "" || len(result.Tracks) == 0 {
		return nil, &UploadError{Status: resp.StatusCode, Message: "response carries no tracks"}
	}

	log.Printf("Upload %s separated into %d stems (session %s)", filename, len(result.Tracks), result.Path)
	return &result.UploadResult, nil
}

// UploadFile opens path and uploads it.
func (c *Client) UploadFile(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	defer f.Close()
	return c.Upload(ctx, path, f)
}

// Export requests a server-side mixdown and returns the WAV payload.
func (c *Client) Export(ctx context.Context, req ExportRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/export", bytes.NewReader(body))
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("submit export: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExportError{Status: resp.StatusCode, Message: readError(resp.Body, "export failed")}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("read mix: %w", err)}
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, &ExportError{Status: resp.StatusCode, Message: "response is not a WAV file"}
	}
	if d, err := dec.Duration(); err == nil {
		log.Printf("Exported mix: %d bytes, %s", len(data), d.Round(time.Millisecond))
	}
	return data, nil
}

// FetchStem downloads a stem resource into dir and returns the local path.
// Relative locators resolve against the backend URL.
func (c *Client) FetchStem(ctx context.Context, stem Stem, dir string) (string, error) {
	src, err := c.resolve(stem.URL)
	if err != nil {
		return "", fmt.Errorf("stem %s: %w", stem.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", src, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download stem %s: %w", stem.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download stem %s: status %d", stem.Name, resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stem dir: %w", err)
	}

	ext := filepath.Ext(urlPath(src))
	if ext == "" {
		ext = ".wav"
	}
	dst := filepath.Join(dir, safeName(stem.Name)+ext)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create stem file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write stem %s: %w", stem.Name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write stem %s: %w", stem.Name, err)
	}
	return dst, nil
}

func (c *Client) resolve(locator string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse stem url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// safeName keeps stem names usable as file names.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.ToLower(name))
}

// readError extracts {"error": "..."} from a failure body, falling back to
// the given message.
func readError(r io.Reader, fallback string) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var e errorResp
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return fallback
}
