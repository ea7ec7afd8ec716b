package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go-bg-remover/pkg/validation"
)

var (
	ErrSourceTooLarge  = errors.New("source image exceeds size limit")
	ErrBlockedAddress  = errors.New("source address is not allowed")
	errTooManyRedirect = errors.New("too many redirects (limit: 3)")
)

// URLChecker approves every URL the fetcher is about to request, including
// each redirect hop.
type URLChecker interface {
	ValidateSourceURL(sourceURL string) error
}

type FetcherOption func(*HTTPSourceFetcher)

// WithURLChecker validates the initial URL and every redirect target.
func WithURLChecker(c URLChecker) FetcherOption {
	return func(h *HTTPSourceFetcher) { h.checker = c }
}

// AllowPrivateAddresses lets the fetcher connect to loopback, private and
// link-local addresses.
func AllowPrivateAddresses() FetcherOption {
	return func(h *HTTPSourceFetcher) { h.allowPrivate = true }
}

// HTTPSourceFetcher downloads remote images selected by URL. Bodies are
// streamed to the caller, who must close them. Unless AllowPrivateAddresses
// is given, connections are refused when the resolved address is not
// publicly routable.
type HTTPSourceFetcher struct {
	client       *http.Client
	maxBytes     int64
	checker      URLChecker
	allowPrivate bool
}

// NewHTTPSourceFetcher creates a fetcher whose downloads are capped at maxBytes.
func NewHTTPSourceFetcher(timeout time.Duration, maxBytes int64, opts ...FetcherOption) *HTTPSourceFetcher {
	h := &HTTPSourceFetcher{maxBytes: maxBytes}
	for _, opt := range opts {
		opt(h)
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !h.allowPrivate {
		dialer.Control = refusePrivateAddress
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	h.client = &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errTooManyRedirect
			}
			return h.check(req.URL.String())
		},
	}
	return h
}

// Fetch issues a single GET and returns the body with its content type.
func (h *HTTPSourceFetcher) Fetch(ctx context.Context, imageURL string) (io.ReadCloser, string, error) {
	if err := h.check(imageURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/png, image/jpeg, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Go-BG-Remover/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("fetch source image: status code %d", resp.StatusCode)
	}
	if h.maxBytes > 0 && resp.ContentLength > h.maxBytes {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("%w: %d > %d bytes", ErrSourceTooLarge, resp.ContentLength, h.maxBytes)
	}

	body := resp.Body
	if h.maxBytes > 0 {
		body = &limitedBody{ReadCloser: resp.Body, remaining: h.maxBytes}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (h *HTTPSourceFetcher) check(u string) error {
	if h.checker == nil {
		return nil
	}
	if err := h.checker.ValidateSourceURL(u); err != nil {
		return fmt.Errorf("%w: %w", ErrBlockedAddress, err)
	}
	return nil
}

// refusePrivateAddress runs after DNS resolution, so address is always an IP.
func refusePrivateAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || validation.IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// limitedBody fails with ErrSourceTooLarge once more than the limit was read.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrSourceTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrSourceTooLarge
	}
	return n, err
}
