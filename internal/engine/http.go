package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPStatusError is returned for non-2xx download responses
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return friendlyHTTPError(e.Status).Error()
}

// headerVariant is one way of presenting the download request
type headerVariant struct {
	name    string
	headers map[string]string
}

var defaultVariant = headerVariant{
	name: "default",
	headers: map[string]string{
		"User-Agent":      GenericUserAgent,
		"Accept":          "application/octet-stream, */*",
		"Accept-Language": "en-US,en;q=0.5",
		"Referer":         DefaultReferer,
		"Connection":      "keep-alive",
	},
}

// hotlinkVariants are tried in order against hosts that reject the default request
var hotlinkVariants = []headerVariant{
	defaultVariant,
	{name: "minimal", headers: map[string]string{
		"User-Agent": GenericUserAgent,
	}},
	{name: "curl", headers: map[string]string{
		"User-Agent": "curl/8.4.0",
		"Accept":     "*/*",
	}},
	{name: "alternate-referer", headers: map[string]string{
		"User-Agent": GenericUserAgent,
		"Accept":     "*/*",
		"Referer":    "https://archive.org/",
	}},
}

// newRequest creates a GET request with the headers of variant
func newRequest(ctx context.Context, urlStr string, variant headerVariant) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range variant.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// friendlyError converts technical errors to user-friendly messages
func friendlyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("Server not found. Check the URL is correct.")
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("Server is offline or unreachable.")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("Connection timed out. Try again later.")
	case strings.Contains(msg, "certificate"):
		return fmt.Errorf("SSL certificate error. The website may not be secure.")
	case strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("No internet connection.")
	case strings.Contains(msg, "unexpected EOF"):
		return fmt.Errorf("Connection closed before the download finished.")
	default:
		return fmt.Errorf("Connection failed. Check your internet.")
	}
}

// friendlyHTTPError converts HTTP status codes to user-friendly messages
func friendlyHTTPError(status int) error {
	switch status {
	case 404:
		return fmt.Errorf("File not found on server (404)")
	case 403:
		return fmt.Errorf("Access denied by server (403)")
	case 401:
		return fmt.Errorf("Authentication required (401)")
	case 500, 502, 503:
		return fmt.Errorf("Server error. Try again later (%d)", status)
	case 429:
		return fmt.Errorf("Too many requests. Wait and try again.")
	default:
		return fmt.Errorf("Server returned error %d", status)
	}
}
