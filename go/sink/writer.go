package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// writerPublisher appends each payload as one line of newline-delimited JSON.
type writerPublisher struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	line   []byte
}

func newStdoutPublisher() *writerPublisher {
	return &writerPublisher{w: os.Stdout}
}

func newFilePublisher(cfg FileConfig) (*writerPublisher, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	var f, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &writerPublisher{w: f, closer: f}, nil
}

func (p *writerPublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A single write per line keeps lines intact even if the file is shared.
	p.line = append(append(p.line[:0], payload...), '\n')
	if _, err := p.w.Write(p.line); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

func (p *writerPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
