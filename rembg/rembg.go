// Package rembg adapts external background-segmentation services. Every
// backend takes encoded image bytes and returns PNG bytes whose alpha channel
// marks the foreground.
package rembg

import (
	"context"
)

const (
	BackendNoop     = "noop"
	BackendServer   = "rembg"
	BackendBiRefNet = "birefnet"
)

type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// Prober is implemented by backends that can report their availability.
type Prober interface {
	Ping(ctx context.Context) error
}

// Noop returns its input unchanged. Useful for local development without a
// segmentation backend.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Remove(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

func (n *Noop) Ping(context.Context) error {
	return nil
}
