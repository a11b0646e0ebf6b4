package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	c := New(0, 5*time.Second)
	c.HTTP.RetryWaitMin = time.Millisecond
	c.HTTP.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "archive payload bytes")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.lha")
	n, err := testClient().Download(context.Background(), srv.URL, dest, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("archive payload bytes")) {
		t.Fatalf("wrong byte count: %d", n)
	}
	if got := atomic.LoadInt64(&hits); got != 3 {
		t.Fatalf("expected 3 attempts, server saw %d", got)
	}
}

func TestDownloadPermanentFailureNoRetry(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.lha")
	if _, err := testClient().Download(context.Background(), srv.URL, dest, 1, nil); err == nil {
		t.Fatal("expected an error for a 404")
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("404 should not be retried, server saw %d requests", got)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("no file should exist after a failed download")
	}
}

func TestDownloadRejectsShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tiny")
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "archive.lha")
	_, err := testClient().Download(context.Background(), srv.URL, dest, 64, nil)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}

	// Neither the final file nor the temporary one may remain.
	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover files after rejected download: %v", entries)
	}
}

func TestDownloadRejectsHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><head><title>File Not Available</title></head></html>")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.lha")
	_, err := testClient().Download(context.Background(), srv.URL, dest, 1, nil)
	if err == nil {
		t.Fatal("expected an error for an HTML body")
	}
	if !strings.Contains(err.Error(), "File Not Available") {
		t.Fatalf("error should carry the HTML title for the log: %v", err)
	}
}

func TestDownloadValidateFailureDiscardsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "definitely not an archive, long enough though")
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "archive.lha")
	_, err := testClient().Download(context.Background(), srv.URL, dest, 1, func(string) error {
		return errors.New("bad signature")
	})
	if err == nil {
		t.Fatal("expected the validate error to propagate")
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover files after failed validation: %v", entries)
	}
}

func TestGetErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected a status-bearing error, got %v", err)
	}
}

func TestDownloadFinishesAfterStop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "44")
		fmt.Fprint(w, "first half of the body, ")
		w.(http.Flusher).Flush()
		close(started)
		<-release
		fmt.Fprint(w, "and the second half.")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
		close(release)
	}()

	dest := filepath.Join(t.TempDir(), "archive.lha")
	n, err := testClient().Download(ctx, srv.URL, dest, 1, nil)
	if err != nil {
		t.Fatalf("transfer underway at stop time should complete: %v", err)
	}
	if n != 44 {
		t.Fatalf("incomplete body after stop: %d bytes", n)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatal("completed download missing from destination")
	}
}

func TestStopPreventsNextRequest(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := New(time.Hour, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := c.Get(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := c.Get(ctx, srv.URL); err == nil {
		t.Fatal("request after stop should fail at the pacing wait")
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("stopped client still reached the server, %d hits", got)
	}
}

func TestPacingDelaysConsecutiveRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := New(50*time.Millisecond, 5*time.Second)
	ctx := context.Background()

	start := time.Now()
	if _, err := c.Get(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second request not paced, elapsed %v", elapsed)
	}
}
