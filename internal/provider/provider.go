// Package provider turns premium host links into direct download URLs.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rgsx/internal/config"
)

// Provider tags shown in the history entry
const (
	TagOneFichier = "1F"
	TagAllDebrid  = "AD"
	TagRealDebrid = "RD"
)

// RequestTimeout applies to every provider API call
const RequestTimeout = 30 * time.Second

// ErrNoProvider means no resolver could be applied to the link
var ErrNoProvider = errors.New("no provider available")

// ResolvedLink is a direct, usually time-limited, download location
type ResolvedLink struct {
	URL      string
	Filename string
	Size     int64
	Provider string
}

// Error is a provider failure with a short user-facing message
type Error struct {
	Provider   string
	Message    string
	Raw        string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Resolver is one strategy of the fallback chain
type Resolver interface {
	Name() string
	// Applies reports whether the resolver has what it needs for this link
	Applies(rawURL string, creds config.Credentials) bool
	Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*ResolvedLink, error)
}

// Chain tries resolvers in order and stops at the first success
type Chain struct {
	resolvers []Resolver
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers, logger: logger}
}

// DefaultChain wires 1fichier, AllDebrid and RealDebrid against their public APIs
func DefaultChain(logger *slog.Logger) *Chain {
	client := &http.Client{Timeout: RequestTimeout}
	return NewChain(logger,
		NewOneFichier(client, ""),
		NewAllDebrid(client, ""),
		NewRealDebrid(client, ""),
	)
}

// Resolve walks the chain. When every applicable resolver fails, the most specific
// error seen is returned; when none applied, ErrNoProvider.
func (c *Chain) Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*ResolvedLink, error) {
	var lastErr error
	for _, r := range c.resolvers {
		if !r.Applies(rawURL, creds) {
			c.logger.Debug("Provider skipped", "provider", r.Name(), "url", rawURL)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		link, err := r.Resolve(ctx, rawURL, creds)
		if err == nil {
			link.Provider = r.Name()
			c.logger.Info("Link resolved", "provider", r.Name(), "filename", link.Filename)
			return link, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn("Provider failed", "provider", r.Name(), "error", err)
		lastErr = moreSpecific(lastErr, err)
	}

	if lastErr == nil {
		return nil, ErrNoProvider
	}
	return nil, lastErr
}

// moreSpecific prefers structured provider errors over transport failures
func moreSpecific(current, next error) error {
	if current == nil {
		return next
	}
	var pe *Error
	if errors.As(current, &pe) && !errors.As(next, &pe) {
		return current
	}
	return next
}

// IsOneFichierURL reports whether url points at 1fichier
func IsOneFichierURL(url string) bool {
	return strings.Contains(url, "1fichier.com")
}

// IsProviderURL reports whether url needs the resolver chain
func IsProviderURL(url string) bool {
	return IsOneFichierURL(url)
}

// StripAffiliate removes the affiliate suffix 1fichier links may carry
func StripAffiliate(url string) string {
	link, _, _ := strings.Cut(url, "&af=")
	return link
}
