// Package vector projects entity summaries into the vector store for
// similarity search. The whole path is best-effort: the vector store is not
// authoritative and its failures degrade recall, never correctness.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

const maxErrorBodyBytes = 1024

// Namespace for deterministic point IDs: the same (kind, natural key) always
// maps to the same point, which is what makes re-indexing idempotent.
var pointIDNamespace = uuid.MustParse("7c9e2f41-88ab-4d6e-9c01-5b2a1c7d94e3")

func PointID(kind model.Kind, naturalKey string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(string(kind)+"/"+naturalKey)).String()
}

type Config struct {
	URL        string
	Collection string
	VectorDim  int
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	collection string
	vectorDim  int
	http       *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection required")
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("qdrant vector dim must be positive")
	}
	c := &Client{
		log:        log.With("store", "vector"),
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		vectorDim:  cfg.VectorDim,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	return c, nil
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+c.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.vectorDim,
			"distance": "Cosine",
		},
	}
	status, raw, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant create collection: status %d: %s", status, raw)
	}
	c.log.Info("created vector collection", "collection", c.collection, "dim", c.vectorDim)
	return nil
}

type Point struct {
	Kind       model.Kind
	NaturalKey string
	Summary    string
	Vector     []float32
}

func (c *Client) UpsertPoint(ctx context.Context, p Point) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":     PointID(p.Kind, p.NaturalKey),
			"vector": p.Vector,
			"payload": map[string]any{
				"kind":        string(p.Kind),
				"natural_key": p.NaturalKey,
				"summary":     p.Summary,
			},
		}},
	}
	status, raw, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant upsert: status %d: %s", status, raw)
	}
	return nil
}

func (c *Client) DeletePoint(ctx context.Context, kind model.Kind, naturalKey string) error {
	body := map[string]any{
		"points": []string{PointID(kind, naturalKey)},
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/collections/"+c.collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant delete: status %d: %s", status, raw)
	}
	return nil
}

// ListKeys scrolls the full natural-key set for one kind. Used by the
// integrity validator; pagination follows next_page_offset.
func (c *Client) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	var keys []string
	var offset any

	for {
		body := map[string]any{
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "kind", "match": map[string]any{"value": string(kind)}},
				},
			},
			"limit":        256,
			"with_payload": true,
		}
		if offset != nil {
			body["offset"] = offset
		}
		status, raw, err := c.do(ctx, http.MethodPost, "/collections/"+c.collection+"/points/scroll", body)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("qdrant scroll: status %d: %s", status, raw)
		}

		var envelope struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("qdrant scroll: decode: %w", err)
		}
		for _, p := range envelope.Result.Points {
			if key, ok := p.Payload["natural_key"].(string); ok {
				keys = append(keys, key)
			}
		}
		if envelope.Result.NextPageOffset == nil {
			return keys, nil
		}
		offset = envelope.Result.NextPageOffset
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &model.StoreUnavailable{Store: "vector", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if len(raw) > maxErrorBodyBytes && resp.StatusCode >= 400 {
		raw = raw[:maxErrorBodyBytes]
	}
	return resp.StatusCode, raw, nil
}
