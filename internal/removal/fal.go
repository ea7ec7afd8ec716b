package removal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go-bg-remover/internal/httpclient"
	"go-bg-remover/internal/logger"
)

// queue statuses reported by the fal queue API
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
)

const defaultPollInterval = 500 * time.Millisecond

type Options struct {
	QueueURL     string
	APIKey       string
	PollInterval time.Duration
	// Timeout bounds one whole submit-poll-fetch cycle; zero leaves it to the transport.
	Timeout time.Duration
}

// FalClient submits work to the fal.ai queue, waits for it and reads the result.
type FalClient struct {
	cli          httpclient.IClient
	queueURL     string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
}

var _ Remover = (*FalClient)(nil)

func NewFalClient(cli httpclient.IClient, opts Options) *FalClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &FalClient{
		cli:          cli,
		queueURL:     strings.TrimRight(opts.QueueURL, "/"),
		apiKey:       opts.APIKey,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
	}
}

type falInput struct {
	ImageURL            string `json:"image_url"`
	Model               string `json:"model"`
	OperatingResolution string `json:"operating_resolution"`
	OutputFormat        string `json:"output_format"`
}

type queueStatus struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falResult struct {
	Image struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	} `json:"image"`
}

// RemoveBackground runs exactly one remove-background job. Every failure is
// returned as a *RemovalError; the cause is only logged.
func (c *FalClient) RemoveBackground(ctx context.Context, imageRef string) (string, error) {
	startTime := time.Now()
	fields := logrus.Fields{
		"model":          ModelID,
		"reference_kind": referenceKind(imageRef),
		"reference_size": len(imageRef),
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url, err := c.run(ctx, imageRef)
	fields["processing_time_ms"] = time.Since(startTime).Milliseconds()
	if err != nil {
		rerr := &RemovalError{Kind: classify(err), Cause: err}
		fields["failure_kind"] = rerr.Kind
		logger.WithError(err).WithFields(fields).Error("Error removing background")
		return "", rerr
	}

	logger.WithFields(fields).Info("Background removed")
	return url, nil
}

func (c *FalClient) run(ctx context.Context, imageRef string) (string, error) {
	if strings.TrimSpace(imageRef) == "" {
		return "", &remoteError{msg: "empty image reference"}
	}

	status, err := c.submit(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	if err := c.waitForCompletion(ctx, status); err != nil {
		return "", err
	}

	var result falResult
	if err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: status.ResponseURL,
		Method:     http.MethodGet,
		Header:     c.headers(),
		Response:   &result,
	}); err != nil {
		return "", fmt.Errorf("fetch result: %w", err)
	}
	if result.Image.URL == "" {
		return "", &remoteError{msg: "result has no image url"}
	}
	return result.Image.URL, nil
}

func (c *FalClient) submit(ctx context.Context, imageRef string) (*queueStatus, error) {
	status := &queueStatus{}
	err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: c.queueURL + "/" + ModelID,
		Method:     http.MethodPost,
		Header:     c.headers(),
		Body: falInput{
			ImageURL:            imageRef,
			Model:               ModelVariant,
			OperatingResolution: OperatingResolution,
			OutputFormat:        OutputFormat,
		},
		Response: status,
	})
	if err != nil {
		return nil, err
	}
	if status.ResponseURL == "" {
		return nil, &remoteError{msg: "queue response has no response_url"}
	}
	return status, nil
}

func (c *FalClient) waitForCompletion(ctx context.Context, status *queueStatus) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch status.Status {
		case statusCompleted:
			return nil
		case "", statusInQueue, statusInProgress:
		default:
			return &remoteError{msg: fmt.Sprintf("request %s ended with status %q", status.RequestID, status.Status)}
		}
		if status.StatusURL == "" {
			return &remoteError{msg: "queue response has no status_url"}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for request %s: %w", status.RequestID, ctx.Err())
		case <-ticker.C:
		}

		next := &queueStatus{}
		if err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
			RequestURI: status.StatusURL,
			Method:     http.MethodGet,
			Header:     c.headers(),
			Response:   next,
		}); err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		status.Status = next.Status
	}
}

func (c *FalClient) headers() map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if c.apiKey != "" {
		h["Authorization"] = "Key " + c.apiKey
	}
	return h
}
