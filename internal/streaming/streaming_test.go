package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPipeline() *Pipeline {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunEmitsTokensInOrder(t *testing.T) {
	tokens := make(chan string, 3)
	errs := make(chan error)
	tokens <- "a"
	tokens <- "b"
	tokens <- "c"
	close(tokens)
	close(errs)

	rec := httptest.NewRecorder()
	if err := testPipeline().Run(context.Background(), rec, tokens, errs); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	body := rec.Body.String()
	want := "data: a\n\ndata: b\n\ndata: c\n\ndata: [DONE]\n\n"
	if body != want {
		t.Errorf("unexpected stream body:\n%q\nwant:\n%q", body, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
}

func TestRunNothingAfterSentinel(t *testing.T) {
	tokens := make(chan string, 1)
	errs := make(chan error)
	tokens <- "only"
	close(tokens)
	close(errs)

	rec := httptest.NewRecorder()
	if err := testPipeline().Run(context.Background(), rec, tokens, errs); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	body := rec.Body.String()
	idx := strings.Index(body, "data: [DONE]\n\n")
	if idx < 0 {
		t.Fatalf("expected sentinel in body %q", body)
	}
	if rest := body[idx+len("data: [DONE]\n\n"):]; rest != "" {
		t.Errorf("expected nothing after sentinel, got %q", rest)
	}
}

func TestRunHeartbeatsWhileIdle(t *testing.T) {
	tokens := make(chan string)
	errs := make(chan error)
	go func() {
		time.Sleep(80 * time.Millisecond)
		tokens <- "late"
		close(tokens)
		close(errs)
	}()

	rec := httptest.NewRecorder()
	pipeline := testPipeline().WithHeartbeat(20 * time.Millisecond)
	if err := pipeline.Run(context.Background(), rec, tokens, errs); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("expected heartbeat comments in %q", body)
	}
	if !strings.HasSuffix(body, "data: late\n\ndata: [DONE]\n\n") {
		t.Errorf("expected token then sentinel at end of %q", body)
	}
}

func TestRunProducerError(t *testing.T) {
	tokens := make(chan string, 1)
	errs := make(chan error, 1)
	tokens <- "partial"
	streamErr := errors.New("upstream reset")
	errs <- streamErr
	close(tokens)
	close(errs)

	rec := httptest.NewRecorder()
	err := testPipeline().Run(context.Background(), rec, tokens, errs)
	if !errors.Is(err, streamErr) {
		t.Fatalf("expected producer error to surface, got %v", err)
	}

	body := rec.Body.String()
	if strings.Contains(body, "[DONE]") {
		t.Errorf("sentinel must not follow a failed stream, got %q", body)
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected an error frame, got %q", body)
	}
}

func TestRunCancellation(t *testing.T) {
	tokens := make(chan string)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	rec := httptest.NewRecorder()
	go func() {
		done <- testPipeline().Run(ctx, rec, tokens, errs)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop on cancellation")
	}

	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Error("sentinel must not be written on cancellation")
	}
}

func TestPrepend(t *testing.T) {
	rest := make(chan string, 2)
	rest <- "b"
	rest <- "c"
	close(rest)

	merged := Prepend(context.Background(), "a", rest)

	var got []string
	for token := range merged {
		got = append(got, token)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
