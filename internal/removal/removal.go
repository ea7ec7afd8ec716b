package removal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go-bg-remover/internal/httpclient"
)

// Fixed request settings. They are constants of the system, not user input.
const (
	ModelID             = "fal-ai/birefnet"
	ModelVariant        = "General Use (Light)"
	OperatingResolution = "1024x1024"
	OutputFormat        = "png"
)

// ErrRemovalFailed is the single error kind callers can observe.
var ErrRemovalFailed = errors.New("background removal failed")

// Remover removes the background of the referenced image (URL or data URI)
// and returns the URL of the processed image.
type Remover interface {
	RemoveBackground(ctx context.Context, imageRef string) (string, error)
}

// Kind tags the underlying cause of a failure for diagnostics only.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindRemoteProcessing Kind = "remote_processing"
	KindQuota            Kind = "quota"
	KindTimeout          Kind = "timeout"
)

// RemovalError always reads as ErrRemovalFailed; Kind and Cause are kept for logs.
type RemovalError struct {
	Kind  Kind
	Cause error
}

func (e *RemovalError) Error() string {
	return ErrRemovalFailed.Error()
}

func (e *RemovalError) Is(target error) bool {
	return target == ErrRemovalFailed
}

func (e *RemovalError) Unwrap() error {
	return e.Cause
}

// remoteError marks failures reported by, or malformed responses from, the service.
type remoteError struct {
	msg string
}

func (e *remoteError) Error() string {
	return e.msg
}

func classify(err error) Kind {
	var statusErr *httpclient.StatusError
	var netErr net.Error
	var remoteErr *remoteError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
			return KindQuota
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return KindTimeout
		default:
			return KindRemoteProcessing
		}
	case errors.As(err, &remoteErr):
		return KindRemoteProcessing
	default:
		return KindNetwork
	}
}

// referenceKind describes an image reference for logging without dumping it.
func referenceKind(imageRef string) string {
	switch {
	case strings.HasPrefix(imageRef, "data:"):
		return "data_uri"
	case strings.HasPrefix(imageRef, "http://"), strings.HasPrefix(imageRef, "https://"):
		return "url"
	default:
		return "unknown"
	}
}
