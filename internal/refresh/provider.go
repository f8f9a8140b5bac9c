// Package refresh pulls amendements from an upstream provider into a
// lecture.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"repondeur/api/internal/store"
)

// RawAmendement is one upstream record, before numbers and divisions are
// parsed.
type RawAmendement struct {
	Num                 string `json:"num"`
	Article             string `json:"article"`
	ArticleTitre        string `json:"article_titre"`
	Position            *int   `json:"position"`
	Auteur              string `json:"auteur"`
	Groupe              string `json:"groupe"`
	Sort                string `json:"sort"`
	Corps               string `json:"corps"`
	Expose              string `json:"expose"`
	IDIdentique         *int64 `json:"id_identique"`
	IDDiscussionCommune *int64 `json:"id_discussion_commune"`
	Parent              string `json:"parent"`
}

type Provider interface {
	Fetch(ctx context.Context, lecture store.Lecture) ([]RawAmendement, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d for %s", e.StatusCode, e.URL)
}

// Retryable holds for server errors and rate limiting.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPProvider reads a JSON array of RawAmendement from
// <base>/<chambre>/<session>/<num_texte>/<organe>/amendements.json.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) endpoint(lecture store.Lecture) string {
	return strings.Join([]string{
		p.baseURL,
		url.PathEscape(lecture.Chambre),
		url.PathEscape(lecture.Session),
		strconv.Itoa(lecture.NumTexte),
		url.PathEscape(lecture.Organe),
		"amendements.json",
	}, "/")
}

func (p *HTTPProvider) Fetch(ctx context.Context, lecture store.Lecture) ([]RawAmendement, error) {
	endpoint := p.endpoint(lecture)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch amendements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var records []RawAmendement
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode amendements: %w", err)
	}
	return records, nil
}
