package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/gluedoc/internal/metrics"
)

// Path is the endpoint, relative to the application prefix.
const Path = "/advanced-links"

type response struct {
	Data Catalog `json:"data"`
}

// Handler serves a catalog as {"data": {category: [...]}}.
type Handler struct {
	Catalog Catalog
	Logger  *slog.Logger
}

// NewHandler returns a handler serving c.
func NewHandler(c Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{Catalog: c, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := h.Catalog
	if data == nil {
		data = Catalog{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response{Data: data}); err != nil {
		h.Logger.Warn("failed to write catalog", "error", err)
	}
}

// Client fetches a catalog from a remote server.
type Client struct {
	// BaseURL is the application prefix, e.g. http://localhost:8080/glue.
	BaseURL    string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// NewClient returns a client with a 10 second timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch retrieves the catalog. Network failures and non-200 answers are
// returned as errors; callers are expected to fall back to an empty catalog.
func (c *Client) Fetch(ctx context.Context) (cat Catalog, err error) {
	defer func() { c.Metrics.RecordCatalogFetch(err == nil) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+Path, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status %s", resp.Status)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if body.Data == nil {
		body.Data = Catalog{}
	}
	return body.Data, nil
}
