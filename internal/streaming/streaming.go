// Package streaming turns a token channel into a server-sent event
// response: one data frame per token, a periodic comment heartbeat to keep
// idle connections alive, and a single terminal sentinel.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultHeartbeat is the idle keep-alive interval.
const DefaultHeartbeat = 10 * time.Second

// sentinel terminates the stream; nothing is written after it.
const sentinel = "[DONE]"

type Pipeline struct {
	heartbeat time.Duration
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{heartbeat: DefaultHeartbeat, logger: logger}
}

// WithHeartbeat overrides the keep-alive interval.
func (p *Pipeline) WithHeartbeat(d time.Duration) *Pipeline {
	p.heartbeat = d
	return p
}

// Run writes the event stream until the producer closes its channels, the
// producer fails, or ctx is cancelled. The caller composes ctx from the
// inbound request and the overall timeout, so both cancel the upstream
// call and the heartbeat together. A producer error is surfaced to the
// caller after an error frame; the sentinel is only written on clean
// completion.
func (p *Pipeline) Run(ctx context.Context, w http.ResponseWriter, tokens <-chan string, errs <-chan error) error {
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	write := func(frame string) {
		fmt.Fprint(w, frame)
		if flusher != nil {
			flusher.Flush()
		}
	}

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case token, ok := <-tokens:
			if !ok {
				// Producer finished; drain any trailing error before
				// deciding how to terminate.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						p.logger.Warn("token stream failed", "error", err)
						write("event: error\ndata: stream failed\n\n")
						return err
					}
				default:
				}
				write("data: " + sentinel + "\n\n")
				return nil
			}
			write("data: " + token + "\n\n")

		case err, ok := <-errs:
			if !ok {
				// Closed error channel would otherwise spin the select.
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			p.logger.Warn("token stream failed", "error", err)
			write("event: error\ndata: stream failed\n\n")
			return err

		case <-ticker.C:
			write(": ping\n\n")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Prepend re-attaches a token that was consumed while peeking at the
// stream, preserving order for the pipeline.
func Prepend(ctx context.Context, first string, tokens <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
		for token := range tokens {
			select {
			case out <- token:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
