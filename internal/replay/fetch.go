package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrDownload is wrapped by every download failure.
var ErrDownload = errors.New("replay download failed")

// DownloadError reports a replay request that did not succeed. StatusCode is
// zero when no response was received.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownload }

// HTTPFetcher issues GET requests for replays.
type HTTPFetcher struct {
	Client *http.Client
	// BaseURL resolves relative replay URLs; nil leaves them as given.
	BaseURL *url.URL
	// Limiter throttles outbound requests when set.
	Limiter *rate.Limiter
	// MaxBytes caps the payload size; zero means unlimited.
	MaxBytes int64
}

// NewHTTPFetcher builds a fetcher with a request timeout and an optional
// requests-per-second limit (rps <= 0 disables limiting).
func NewHTTPFetcher(baseURL string, timeout time.Duration, rps float64) (*HTTPFetcher, error) {
	f := &HTTPFetcher{}
	f.Client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			_, err := f.Resolve(req.URL.String())
			return err
		},
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		f.BaseURL = u
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		f.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return f, nil
}

// ErrForeignHost is returned by Resolve for a URL outside BaseURL's origin.
var ErrForeignHost = errors.New("replay url outside the allowed host")

// Resolve returns the absolute form of raw against BaseURL. When BaseURL is
// set the result must share its scheme and host, so annotations in
// untrusted markup cannot point the server at other hosts.
func (f *HTTPFetcher) Resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if f.BaseURL != nil {
		u = f.BaseURL.ResolveReference(u)
		if !strings.EqualFold(u.Scheme, f.BaseURL.Scheme) || !strings.EqualFold(u.Host, f.BaseURL.Host) {
			return "", fmt.Errorf("%w: %s", ErrForeignHost, u.Redacted())
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Fetch downloads the body at rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := f.Resolve(rawURL)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, &DownloadError{URL: rawURL, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &DownloadError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("payload exceeds %d bytes", f.MaxBytes)}
	}
	return data, nil
}
