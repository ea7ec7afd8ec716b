package validation

import (
	"net"
	"net/url"
	"strings"

	apperrors "go-bg-remover/internal/errors"
)

// URLValidator decides whether a remote image may be fetched as a source.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	allowPrivate   bool
}

type URLValidatorOption func(*URLValidator)

// WithAllowedHosts restricts fetches to the given host names.
func WithAllowedHosts(hosts ...string) URLValidatorOption {
	return func(v *URLValidator) { v.allowedHosts = hosts }
}

// WithSchemes replaces the default http/https scheme list.
func WithSchemes(schemes ...string) URLValidatorOption {
	return func(v *URLValidator) { v.allowedSchemes = schemes }
}

// AllowPrivateHosts permits loopback, link-local and private address literals.
func AllowPrivateHosts() URLValidatorOption {
	return func(v *URLValidator) { v.allowPrivate = true }
}

func NewURLValidator(opts ...URLValidatorOption) *URLValidator {
	v := &URLValidator{
		allowedSchemes: []string{"http", "https"},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateSourceURL returns a validation AppError when sourceURL may not be fetched.
func (v *URLValidator) ValidateSourceURL(sourceURL string) error {
	if strings.TrimSpace(sourceURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(sourceURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	host := parsedURL.Hostname()
	if host == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if parsedURL.User != nil {
		return apperrors.NewValidationError("URL must not contain credentials", nil)
	}

	if len(v.allowedHosts) > 0 && !contains(v.allowedHosts, strings.ToLower(host)) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	if !v.allowPrivate && isPrivateHost(host) {
		return apperrors.NewValidationError("URL host is not publicly routable", nil)
	}

	return nil
}

func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && IsPrivateIP(ip)
}

// IsPrivateIP reports addresses a source fetch must never connect to.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
