package rembg

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/segmentio/ksuid"

	nhttp "github.com/redevil1/rembg-gui/util/http"
)

// ServerRemBG calls the HTTP API of a `rembg s` server.
type ServerRemBG struct {
	baseURL string
	model   string
	cli     nhttp.IClient
}

// NewServerRemBG returns a client for the server at baseURL. An empty model
// leaves the choice to the server.
func NewServerRemBG(baseURL, model string) *ServerRemBG {
	return &ServerRemBG{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		cli:     nhttp.NewHTTPClient(),
	}
}

func (s *ServerRemBG) Remove(ctx context.Context, data []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", ksuid.New().String()+extension(data))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if s.model != "" {
		_ = writer.WriteField("model", s.model)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out []byte
	err = s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.baseURL + "/api/remove",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
	})
	if err != nil {
		return nil, fmt.Errorf("remove background: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("remove background: empty response")
	}
	return out, nil
}

func (s *ServerRemBG) Ping(ctx context.Context) error {
	return s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.baseURL + "/docs",
		Method:     http.MethodGet,
	})
}
