package rembg

import (
	"fmt"
	"os"
	"time"
)

type Options struct {
	Backend      string
	URL          string
	Model        string
	WorkflowFile string
	PollInterval time.Duration
	Concurrency  int
	Timeout      time.Duration
}

// New builds the configured backend wrapped in a Limited.
func New(opts Options) (*Limited, error) {
	var r Remover
	switch opts.Backend {
	case BackendNoop:
		r = NewNoop()
	case BackendServer:
		if opts.URL == "" {
			return nil, fmt.Errorf("backend %s requires a url", opts.Backend)
		}
		r = NewServerRemBG(opts.URL, opts.Model)
	case BackendBiRefNet:
		if opts.URL == "" {
			return nil, fmt.Errorf("backend %s requires a url", opts.Backend)
		}
		var workflow []byte
		if opts.WorkflowFile != "" {
			var err error
			workflow, err = os.ReadFile(opts.WorkflowFile)
			if err != nil {
				return nil, fmt.Errorf("read workflow: %w", err)
			}
		}
		r = NewBiRefNetRemBG(opts.URL, WithWorkflow(workflow), WithPollInterval(opts.PollInterval))
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", opts.Backend)
	}
	return NewLimited(r, opts.Concurrency, opts.Timeout), nil
}
