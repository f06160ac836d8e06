package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rgsx/internal/config"
)

const (
	allDebridAPI  = "https://api.alldebrid.com/v4"
	realDebridAPI = "https://api.real-debrid.com/rest/1.0"
)

// AllDebrid unlocks links through the AllDebrid API
type AllDebrid struct {
	client  *http.Client
	baseURL string
}

func NewAllDebrid(client *http.Client, baseURL string) *AllDebrid {
	if baseURL == "" {
		baseURL = allDebridAPI
	}
	return &AllDebrid{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *AllDebrid) Name() string { return TagAllDebrid }

func (a *AllDebrid) Applies(rawURL string, creds config.Credentials) bool {
	return creds.AllDebrid != ""
}

type allDebridReply struct {
	Status string `json:"status"`
	Data   struct {
		Link          string `json:"link"`
		Download      string `json:"download"`
		StreamingLink string `json:"streamingLink"`
		Filename      string `json:"filename"`
		Filesize      int64  `json:"filesize"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AllDebrid) Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*ResolvedLink, error) {
	q := url.Values{}
	q.Set("agent", "RGSX")
	q.Set("apikey", creds.AllDebrid)
	q.Set("link", StripAffiliate(rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/link/unlock?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alldebrid request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var reply allDebridReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, &Error{Provider: TagAllDebrid, Message: httpStatusMessage(resp.StatusCode, "Invalid API response"), Raw: string(raw), StatusCode: resp.StatusCode}
	}

	if reply.Status != "success" {
		msg := firstNonEmpty(reply.Error.Message, reply.Error.Code, httpStatusMessage(resp.StatusCode, "Unlock failed"))
		return nil, &Error{Provider: TagAllDebrid, Message: msg, Raw: firstNonEmpty(reply.Error.Code, string(raw)), StatusCode: resp.StatusCode}
	}

	direct := firstNonEmpty(reply.Data.Link, reply.Data.Download, reply.Data.StreamingLink)
	if direct == "" {
		return nil, &Error{Provider: TagAllDebrid, Message: "No download link returned", Raw: string(raw), StatusCode: resp.StatusCode}
	}
	return &ResolvedLink{URL: direct, Filename: reply.Data.Filename, Size: reply.Data.Filesize}, nil
}

// RealDebrid unrestricts links through the Real-Debrid API
type RealDebrid struct {
	client  *http.Client
	baseURL string
}

func NewRealDebrid(client *http.Client, baseURL string) *RealDebrid {
	if baseURL == "" {
		baseURL = realDebridAPI
	}
	return &RealDebrid{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *RealDebrid) Name() string { return TagRealDebrid }

func (r *RealDebrid) Applies(rawURL string, creds config.Credentials) bool {
	return creds.RealDebrid != ""
}

var realDebridErrors = map[int]string{
	-1: "Internal error",
	1:  "Bad request",
	2:  "Bad request",
	5:  "Rate limited, try again later",
	7:  "File not found",
	8:  "Invalid API key",
	9:  "Access denied",
	16: "Unsupported hoster",
	17: "Hoster temporarily unavailable",
	19: "Hoster temporarily unavailable",
	20: "Premium account required",
	23: "No traffic left",
	24: "File not found",
	25: "Hoster temporarily unavailable",
	34: "Rate limited, try again later",
	36: "Fair usage limit reached",
}

type realDebridReply struct {
	Filename  string `json:"filename"`
	Filesize  int64  `json:"filesize"`
	Download  string `json:"download"`
	Error     string `json:"error"`
	ErrorCode *int   `json:"error_code"`
}

func (r *RealDebrid) Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*ResolvedLink, error) {
	form := url.Values{}
	form.Set("link", StripAffiliate(rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/unrestrict/link", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.RealDebrid)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realdebrid request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var reply realDebridReply
	jsonErr := json.Unmarshal(raw, &reply)

	if jsonErr == nil && reply.ErrorCode != nil {
		msg, ok := realDebridErrors[*reply.ErrorCode]
		if !ok {
			msg = firstNonEmpty(reply.Error, fmt.Sprintf("Error code %d", *reply.ErrorCode))
		}
		return nil, &Error{Provider: TagRealDebrid, Message: msg, Raw: firstNonEmpty(reply.Error, string(raw)), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Provider: TagRealDebrid, Message: httpStatusMessage(resp.StatusCode, "Unrestrict failed"), Raw: string(raw), StatusCode: resp.StatusCode}
	}
	if jsonErr != nil || reply.Download == "" {
		return nil, &Error{Provider: TagRealDebrid, Message: "No download link returned", Raw: string(raw), StatusCode: resp.StatusCode}
	}
	return &ResolvedLink{URL: reply.Download, Filename: reply.Filename, Size: reply.Filesize}, nil
}

// httpStatusMessage is the fallback used when a provider gives no structured error
func httpStatusMessage(status int, fallback string) string {
	switch {
	case status == http.StatusServiceUnavailable:
		return "Service unavailable, try again later"
	case status >= 500:
		return fmt.Sprintf("Server error (%d)", status)
	case status == http.StatusTooManyRequests:
		return "Rate limited, try again later"
	case status == http.StatusUnauthorized:
		return "Invalid API key"
	case status == http.StatusForbidden:
		return "Access denied"
	default:
		return fallback
	}
}
