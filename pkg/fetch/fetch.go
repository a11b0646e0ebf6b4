// Package fetch performs all HTTP traffic against the wiki host.
//
// Every request, whether it is a discovery page or a binary asset, goes
// through the same pacing limiter so the aggregate request rate stays
// below the politeness ceiling. Transient failures (timeouts, 5xx,
// connection resets) are retried with backoff by retryablehttp; 404 and
// other client errors fail immediately.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "exomirror/1.0 (+https://github.com/exotica-tools/exomirror)"

	// partSuffix marks in-flight downloads. A file only appears under
	// its final name after a successful rename, so an interrupted run
	// never leaves a half-written file that looks complete.
	partSuffix = ".part"
)

// ErrTruncated is returned when a download body is shorter than the
// declared Content-Length or below the caller's minimum size.
var ErrTruncated = errors.New("truncated download")

// Client is a politely paced HTTP client.
type Client struct {
	// HTTP is the underlying retrying client. Exposed so callers can
	// tune retry counts and backoff windows.
	HTTP *retryablehttp.Client

	// UserAgent is sent with every request.
	UserAgent string

	limiter *rate.Limiter
}

// New returns a Client that waits at least delay between consecutive
// requests. A zero delay disables pacing (useful in tests only).
func New(delay, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = stdlog.New(io.Discard, "", 0)
	rc.RetryMax = 3
	rc.RetryWaitMin = 2 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.HTTPClient.Timeout = timeout

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	return &Client{
		HTTP:      rc,
		UserAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// A stop signal takes effect between requests: the pacing wait above
	// aborts, but a transfer already underway runs to completion (the
	// client timeout still bounds it).
	req, err := retryablehttp.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg := fmt.Sprintf("unexpected status %d for <%s>", resp.StatusCode, url)
		if title := responseTitle(resp); title != "" {
			msg += fmt.Sprintf(" (%q)", title)
		}
		return nil, errors.New(msg)
	}
	return resp, nil
}

// Get fetches url and returns the whole body. Used for wiki pages and
// API responses, which are small.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Download streams url into dest. The body is written to a temporary
// sibling first and renamed into place only after the size check and
// the optional validate callback pass, so dest either holds the
// complete file or nothing.
func (c *Client) Download(ctx context.Context, url, dest string, minSize int64, validate func(path string) error) (int64, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		msg := fmt.Sprintf("expected binary content for <%s>, got HTML", url)
		if title := responseTitle(resp); title != "" {
			msg += fmt.Sprintf(" (%q)", title)
		}
		return 0, errors.New(msg)
	}

	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}

	if written < minSize || (resp.ContentLength >= 0 && written != resp.ContentLength) {
		os.Remove(part)
		return 0, fmt.Errorf("%w: got %d bytes from <%s>", ErrTruncated, written, url)
	}

	if validate != nil {
		if err := validate(part); err != nil {
			os.Remove(part)
			return 0, err
		}
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return 0, err
	}
	return written, nil
}

// responseTitle pulls the <title> out of an HTML response body so error
// pages served with a 200-ish shape still say something useful in logs.
func responseTitle(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	title, _ := findTitle(doc)
	return strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
}

func findTitle(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result, ok := findTitle(c); ok {
			return result, ok
		}
	}
	return "", false
}
