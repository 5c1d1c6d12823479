package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const streamBuffer = 16

// TextStream is a streamed completion. Read deltas from Chunks, or call Wait
// to discard them and get the full text.
type TextStream struct {
	chunks chan string
	done   chan struct{}

	mu   sync.Mutex
	text string
	err  error
}

func newTextStream() *TextStream {
	return &TextStream{
		chunks: make(chan string, streamBuffer),
		done:   make(chan struct{}),
	}
}

// Chunks yields text deltas in order and closes when the completion ends.
func (s *TextStream) Chunks() <-chan string {
	return s.chunks
}

// Done closes once the stream has ended and its continuation has run.
func (s *TextStream) Done() <-chan struct{} {
	return s.done
}

// Wait drains the stream and returns the full text, or the stream error.
func (s *TextStream) Wait(ctx context.Context) (string, error) {
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				<-s.done
				return s.result()
			}
		case <-ctx.Done():
			return "", fmt.Errorf("wait for stream: %w", ctx.Err())
		}
	}
}

// Err returns the stream error once Done is closed.
func (s *TextStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *TextStream) result() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.err
}

// run drives model.Stream, forwarding deltas and invoking done before closing.
func (s *TextStream) run(ctx context.Context, stream func(emit func(string) error) error, done Completion) {
	var b strings.Builder
	err := stream(func(chunk string) error {
		if chunk == "" {
			return nil
		}
		b.WriteString(chunk)
		select {
		case s.chunks <- chunk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	text := b.String()
	if err != nil && done.OnError != nil {
		done.OnError(err)
	}
	if err == nil && done.OnFinish != nil {
		done.OnFinish(text)
	}
	s.mu.Lock()
	s.text = text
	s.err = err
	s.mu.Unlock()
	close(s.chunks)
	close(s.done)
}

// StreamFromText builds an already-completed stream holding text. It is
// useful for callers that replay stored completions through stream consumers.
func StreamFromText(text string) *TextStream {
	s := newTextStream()
	go s.run(context.Background(), func(emit func(string) error) error {
		return emit(text)
	}, Completion{})
	return s
}
