package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rgsx/internal/config"
)

const oneFichierAPI = "https://api.1fichier.com/v1"

// OneFichier resolves links with the 1fichier premium API
type OneFichier struct {
	client  *http.Client
	baseURL string
}

func NewOneFichier(client *http.Client, baseURL string) *OneFichier {
	if baseURL == "" {
		baseURL = oneFichierAPI
	}
	return &OneFichier{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OneFichier) Name() string { return TagOneFichier }

func (o *OneFichier) Applies(rawURL string, creds config.Credentials) bool {
	return creds.OneFichier != "" && IsOneFichierURL(rawURL)
}

type oneFichierReply struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Error    string `json:"error"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

func (o *OneFichier) Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*ResolvedLink, error) {
	link := StripAffiliate(rawURL)

	info, err := o.post(ctx, "/file/info.cgi", link, creds.OneFichier)
	if err != nil {
		return nil, err
	}
	filename := strings.TrimSpace(info.Filename)
	if filename == "" {
		return nil, &Error{Provider: TagOneFichier, Message: "Cannot get file name"}
	}

	token, err := o.post(ctx, "/download/get_token.cgi", link, creds.OneFichier)
	if err != nil {
		return nil, err
	}
	if token.URL == "" {
		return nil, &Error{Provider: TagOneFichier, Message: "Cannot get download URL"}
	}

	return &ResolvedLink{URL: token.URL, Filename: filename, Size: info.Size}, nil
}

func (o *OneFichier) post(ctx context.Context, path, link, apiKey string) (*oneFichierReply, error) {
	body, _ := json.Marshal(map[string]interface{}{"url": link, "pretty": 1})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("1fichier request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var reply oneFichierReply
	jsonErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode != http.StatusOK {
		text := string(raw)
		if jsonErr == nil {
			text = firstNonEmpty(reply.Error, reply.Message, text)
		}
		return nil, &Error{
			Provider:   TagOneFichier,
			Message:    oneFichierMessage(text, resp.StatusCode),
			Raw:        strings.TrimSpace(string(raw)),
			StatusCode: resp.StatusCode,
		}
	}
	if jsonErr != nil {
		return nil, &Error{Provider: TagOneFichier, Message: "Invalid API response", Raw: string(raw), StatusCode: resp.StatusCode}
	}
	if reply.Error != "" || strings.EqualFold(reply.Status, "KO") {
		text := firstNonEmpty(reply.Error, reply.Message)
		return nil, &Error{Provider: TagOneFichier, Message: oneFichierMessage(text, 0), Raw: text, StatusCode: resp.StatusCode}
	}
	return &reply, nil
}

func oneFichierMessage(text string, status int) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bad token"):
		return "Invalid API key"
	case strings.Contains(lower, "premium"):
		return "Premium account required"
	case strings.Contains(lower, "resource not found") || strings.Contains(lower, "not found"):
		return "File not found"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Access denied"
	case status >= 500:
		return fmt.Sprintf("Server error (%d)", status)
	case status != 0:
		return fmt.Sprintf("API error (%d)", status)
	case text != "":
		return text
	default:
		return "Unknown error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
