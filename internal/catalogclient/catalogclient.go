// Package catalogclient is a thin wrapper around the upstream card catalog
// HTTP API (spec.md §4.7, §6): card search by set, set listing, and the wire
// shapes the Ingestor and Reconciler need to parse. It follows the same
// resty-based client-per-service shape as the teacher's VLM client.
package catalogclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the upstream catalog API.
type Client struct {
	http *resty.Client
}

// New builds a Client against baseURL, sending userAgent on every request.
// Both User-Agent and Accept: application/json are mandatory upstream
// headers (spec.md §4.7).
func New(baseURL, userAgent string) *Client {
	http := resty.New()
	http.SetBaseURL(strings.TrimRight(baseURL, "/"))
	http.SetHeader("User-Agent", userAgent)
	http.SetHeader("Accept", "application/json")
	http.SetTimeout(30 * time.Second)

	return &Client{http: http}
}

// CardFaceImageURIs is the nested image_uris object on a multi-face card.
type CardFaceImageURIs struct {
	Normal string `json:"normal"`
}

// CardFace is one face of a multi-face card.
type CardFace struct {
	ImageURIs CardFaceImageURIs `json:"image_uris"`
}

// PrintingJSON is one element of /cards/search's data array.
type PrintingJSON struct {
	OracleID        string `json:"oracle_id"`
	Name            string `json:"name"`
	Set             string `json:"set"`
	CollectorNumber string `json:"collector_number"`
	SetType         string `json:"set_type"`
	ReleasedAt      string `json:"released_at"`
	ID              string `json:"id"`
	ImageURIs       struct {
		Normal string `json:"normal"`
	} `json:"image_uris"`
	CardFaces []CardFace `json:"card_faces"`
}

// ImageURL resolves image_uris.normal, falling back to the first face's
// image for multi-face cards (spec.md §4.7 step 5).
func (p PrintingJSON) ImageURL() string {
	if p.ImageURIs.Normal != "" {
		return p.ImageURIs.Normal
	}
	if len(p.CardFaces) > 0 {
		return p.CardFaces[0].ImageURIs.Normal
	}
	return ""
}

// ReleasedAtUTC parses ReleasedAt, falling back to the Unix epoch
// (1970-01-01T00:00:00Z, UTC) on a parse failure (spec.md §4.7 step 5).
func (p PrintingJSON) ReleasedAtUTC() time.Time {
	t, err := time.Parse("2006-01-02", p.ReleasedAt)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}

type searchResponse struct {
	Data     []PrintingJSON `json:"data"`
	NextPage string         `json:"next_page"`
}

// ErrSetNotFound signals an upstream 400/404: the set does not exist
// (spec.md §4.7 step 3). Ingestor.SeedSet treats it as a non-error.
type ErrSetNotFound struct {
	SetCode string
}

func (e *ErrSetNotFound) Error() string {
	return fmt.Sprintf("catalogclient: set %q not found upstream", e.SetCode)
}

// ErrRateLimited signals an upstream 429 (spec.md §6): back off and retry
// next cycle rather than treating it as a hard failure.
type ErrRateLimited struct{}

func (e *ErrRateLimited) Error() string { return "catalogclient: rate limited (429)" }

// SearchPage fetches one page of /cards/search. pageURL, when non-empty, is
// the next_page URL from a prior page and is fetched verbatim (it already
// carries the query string); otherwise the first page for setCode is built.
func (c *Client) SearchPage(ctx context.Context, setCode, pageURL string) ([]PrintingJSON, string, error) {
	url := pageURL
	if url == "" {
		url = fmt.Sprintf("/cards/search?q=e:%s&unique=prints&include_extras=false", strings.ToLower(setCode))
	}

	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("catalogclient: search request failed: %w", err)
	}

	switch resp.StatusCode() {
	case 200:
		return body.Data, body.NextPage, nil
	case 400, 404:
		return nil, "", &ErrSetNotFound{SetCode: setCode}
	case 429:
		return nil, "", &ErrRateLimited{}
	default:
		return nil, "", fmt.Errorf("catalogclient: search returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
}

// SetSummary is one element of /sets' data array.
type SetSummary struct {
	Code    string `json:"code"`
	SetType string `json:"set_type"`
}

type setsResponse struct {
	Data []SetSummary `json:"data"`
}

// ListSets fetches the full upstream set catalog.
func (c *Client) ListSets(ctx context.Context) ([]SetSummary, error) {
	var body setsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/sets")
	if err != nil {
		return nil, fmt.Errorf("catalogclient: sets request failed: %w", err)
	}

	switch resp.StatusCode() {
	case 200:
		return body.Data, nil
	case 429:
		return nil, &ErrRateLimited{}
	default:
		return nil, fmt.Errorf("catalogclient: /sets returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
}

// FetchImage downloads raw image bytes from imageURL (a card's image_url).
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("catalogclient: image fetch failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("catalogclient: image fetch returned HTTP %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
