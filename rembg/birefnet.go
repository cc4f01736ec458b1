package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	nhttp "github.com/redevil1/rembg-gui/util/http"
)

// InputPlaceholder is replaced by the uploaded file name in every string
// field of the workflow.
const InputPlaceholder = "{{input_image}}"

const defaultPollInterval = 500 * time.Millisecond

//go:embed workflow.json
var defaultWorkflow []byte

var ErrNoOutputImage = errors.New("workflow produced no output image")

// BiRefNetRemBG runs a BiRefNet background-removal workflow on a ComfyUI
// server: upload the image, queue the workflow, poll its history and fetch
// the saved output.
type BiRefNetRemBG struct {
	baseURL      string
	workflow     []byte
	pollInterval time.Duration
	cli          nhttp.IClient
}

type BiRefNetOption func(*BiRefNetRemBG)

// WithWorkflow replaces the embedded workflow. It must reference
// InputPlaceholder and contain a SaveImage-style output node.
func WithWorkflow(workflow []byte) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		if len(workflow) > 0 {
			b.workflow = workflow
		}
	}
}

func WithPollInterval(d time.Duration) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithHTTPClient(cli nhttp.IClient) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		b.cli = cli
	}
}

func NewBiRefNetRemBG(baseURL string, opts ...BiRefNetOption) *BiRefNetRemBG {
	b := &BiRefNetRemBG{
		baseURL:      strings.TrimRight(baseURL, "/"),
		workflow:     defaultWorkflow,
		pollInterval: defaultPollInterval,
		cli:          nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, data []byte) ([]byte, error) {
	uploaded, err := b.uploadImage(ctx, data)
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, uploaded.path())
	if err != nil {
		return nil, err
	}

	out, err := b.waitForOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	return b.view(ctx, out)
}

func (b *BiRefNetRemBG) Ping(ctx context.Context) error {
	return b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/system_stats",
		Method:     http.MethodGet,
	})
}

// fileRef identifies a file in ComfyUI's input or output folders.
type fileRef struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// path is the value LoadImage expects for an uploaded file.
func (f fileRef) path() string {
	if f.Subfolder == "" {
		return f.Name
	}
	return f.Subfolder + "/" + f.Name
}

func (b *BiRefNetRemBG) uploadImage(ctx context.Context, data []byte) (*fileRef, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", ksuid.New().String()+extension(data))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	resp := &fileRef{}
	err = b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	})
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty file name in response")
	}

	log.Debug().Str("name", resp.Name).Str("subfolder", resp.Subfolder).Msg("uploaded image to comfyui")
	return resp, nil
}

type promptResp struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

func (b *BiRefNetRemBG) prompt(ctx context.Context, inputName string) (string, error) {
	workflow := map[string]any{}
	if err := json.Unmarshal(b.workflow, &workflow); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}
	if !substitute(workflow, InputPlaceholder, inputName) {
		return "", fmt.Errorf("workflow does not reference %s", InputPlaceholder)
	}

	resp := &promptResp{}
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/prompt",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       map[string]any{"prompt": workflow, "client_id": "rembg-gui"},
		Response:   resp,
	})
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("queue prompt: no prompt id, node errors: %s", string(resp.NodeErrors))
	}

	log.Debug().Str("promptId", resp.PromptID).Int("number", resp.Number).Msg("queued comfyui prompt")
	return resp.PromptID, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []fileRef `json:"images"`
	} `json:"outputs"`
}

func (b *BiRefNetRemBG) waitForOutput(ctx context.Context, promptID string) (*fileRef, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: b.baseURL + "/api/history/" + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("prompt %s failed", promptID)
			}
			for _, out := range entry.Outputs {
				if len(out.Images) > 0 {
					img := out.Images[0]
					return &img, nil
				}
			}
			if entry.Status.Completed {
				return nil, ErrNoOutputImage
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetRemBG) view(ctx context.Context, ref *fileRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	var data []byte
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/view?" + q.Encode(),
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch output image: %w", err)
	}
	return data, nil
}

// substitute replaces placeholder with value in every string of a decoded
// JSON tree and reports whether anything was replaced.
func substitute(node any, placeholder, value string) bool {
	found := false
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if s, ok := v.(string); ok && strings.Contains(s, placeholder) {
				n[k] = strings.ReplaceAll(s, placeholder, value)
				found = true
				continue
			}
			found = substitute(v, placeholder, value) || found
		}
	case []any:
		for i, v := range n {
			if s, ok := v.(string); ok && strings.Contains(s, placeholder) {
				n[i] = strings.ReplaceAll(s, placeholder, value)
				found = true
				continue
			}
			found = substitute(v, placeholder, value) || found
		}
	}
	return found
}

func extension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".png"
	}
}
