// Package docstore binds the migration engine's DocumentStore to
// Elasticsearch.
//
// Search pages with from/size over a match_all query sorted by _doc, and
// Bulk sends one NDJSON request of partial updates. A bulk update reindexes
// the documents it changes, which moves them in _doc order, so the engine
// pages through a point in time instead (OpenSnapshot) whose order is fixed
// on _shard_doc. Nothing retries: the transport's automatic retry is
// disabled so a failure surfaces at once.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/JonMunkholm/wis2box-migrate/internal/core"
	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

// maxErrorBody bounds how much of an error response ends up in a message.
const maxErrorBody = 512

// maxReportedRejections bounds how many rejected items an error lists.
const maxReportedRejections = 3

// matchAll is the search body for every page outside a point in time.
var matchAll = []byte(`{"query":{"match_all":{}}}`)

// snapshotKeepAlive is how long a point in time outlives its last request.
// It bounds how long a failed commit can wait before --resume.
const snapshotKeepAlive = "30m"

// Client implements core.DocumentStore.
type Client struct {
	es *elasticsearch.Client
}

var (
	_ core.DocumentStore = (*Client)(nil)
	_ core.Snapshotter   = (*Client)(nil)
)

// New creates a client for the store at url. No request is made until the
// first Search or Bulk.
func New(url string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{url},
		DisableRetry: true,
	})
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, url, err)
	}
	return &Client{es: es}, nil
}

// NewFromClient wraps an existing Elasticsearch client.
func NewFromClient(es *elasticsearch.Client) *Client {
	return &Client{es: es}
}

type searchResponse struct {
	PitID string `json:"pit_id"`
	Hits  struct {
		Hits []struct {
			Index  string         `json:"_index"`
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search implements core.DocumentStore.
func (c *Client) Search(ctx context.Context, index string, from, size int) ([]core.Document, error) {
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(matchAll)),
		c.es.Search.WithFrom(from),
		c.es.Search.WithSize(size),
		c.es.Search.WithSort("_doc"),
	)
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, index, fmt.Errorf("search from %d: %w", from, err))
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, failure.New(failure.StoreUnavailable, index,
			fmt.Errorf("search from %d: status %d: %s", from, res.StatusCode, readExcerpt(res.Body)))
	}

	body, err := decodeSearch(res.Body)
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, index, err)
	}
	return body.documents(), nil
}

func decodeSearch(r io.Reader) (searchResponse, error) {
	var body searchResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return body, fmt.Errorf("decode search response: %w", err)
	}
	return body, nil
}

func (r searchResponse) documents() []core.Document {
	docs := make([]core.Document, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		docs[i] = core.Document{Index: hit.Index, ID: hit.ID, Source: hit.Source}
	}
	return docs
}

// OpenSnapshot implements core.Snapshotter with a point in time on index.
func (c *Client) OpenSnapshot(ctx context.Context, index string) (core.Snapshot, error) {
	res, err := c.es.OpenPointInTime([]string{index}, snapshotKeepAlive, c.es.OpenPointInTime.WithContext(ctx))
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, index, fmt.Errorf("open point in time: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, failure.New(failure.StoreUnavailable, index,
			fmt.Errorf("open point in time: status %d: %s", res.StatusCode, readExcerpt(res.Body)))
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, failure.New(failure.StoreUnavailable, index, fmt.Errorf("decode point in time: %w", err))
	}
	if body.ID == "" {
		return nil, failure.Newf(failure.StoreUnavailable, index, "open point in time: response has no id")
	}
	return &pointInTime{es: c.es, index: index, id: body.ID}, nil
}

// ResumeSnapshot implements core.Snapshotter. No request is made; an
// expired id is reported by the first Search.
func (c *Client) ResumeSnapshot(index, id string) core.Snapshot {
	return &pointInTime{es: c.es, index: index, id: id}
}

// pointInTime is an open Elasticsearch point in time.
type pointInTime struct {
	es    *elasticsearch.Client
	index string
	id    string
}

type pitSearch struct {
	Query map[string]any `json:"query"`
	PIT   pitRef         `json:"pit"`
	Sort  []string       `json:"sort"`
}

type pitRef struct {
	ID        string `json:"id"`
	KeepAlive string `json:"keep_alive"`
}

func (p *pointInTime) ID() string { return p.id }

// Search pages with from/size inside the point in time, which extends its
// keep-alive. The request names no index: the point in time carries it.
func (p *pointInTime) Search(ctx context.Context, from, size int) ([]core.Document, error) {
	req, err := json.Marshal(pitSearch{
		Query: map[string]any{"match_all": map[string]any{}},
		PIT:   pitRef{ID: p.id, KeepAlive: snapshotKeepAlive},
		Sort:  []string{"_shard_doc"},
	})
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, p.index, err)
	}

	res, err := p.es.Search(
		p.es.Search.WithContext(ctx),
		p.es.Search.WithBody(bytes.NewReader(req)),
		p.es.Search.WithFrom(from),
		p.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, p.index, fmt.Errorf("search from %d: %w", from, err))
	}
	defer res.Body.Close()

	if res.IsError() {
		excerpt := readExcerpt(res.Body)
		if res.StatusCode == http.StatusNotFound && strings.Contains(excerpt, "search_context_missing_exception") {
			return nil, failure.New(failure.StoreUnavailable, p.index,
				fmt.Errorf("search from %d: %w: %s", from, core.ErrSnapshotExpired, excerpt))
		}
		return nil, failure.New(failure.StoreUnavailable, p.index,
			fmt.Errorf("search from %d: status %d: %s", from, res.StatusCode, excerpt))
	}

	body, err := decodeSearch(res.Body)
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, p.index, err)
	}
	if body.PitID != "" {
		p.id = body.PitID
	}
	return body.documents(), nil
}

// Close releases the point in time. One that already expired counts as
// released.
func (p *pointInTime) Close(ctx context.Context) error {
	req, err := json.Marshal(map[string]string{"id": p.id})
	if err != nil {
		return err
	}

	res, err := p.es.ClosePointInTime(
		p.es.ClosePointInTime.WithContext(ctx),
		p.es.ClosePointInTime.WithBody(bytes.NewReader(req)),
	)
	if err != nil {
		return failure.New(failure.StoreUnavailable, p.index, fmt.Errorf("close point in time: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return failure.New(failure.StoreUnavailable, p.index,
			fmt.Errorf("close point in time: status %d: %s", res.StatusCode, readExcerpt(res.Body)))
	}
	return nil
}

type bulkMeta struct {
	Update bulkTarget `json:"update"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// Bulk implements core.DocumentStore. A transport failure is
// StoreUnavailable; an error status or any rejected item is UpdateRejected.
func (c *Client) Bulk(ctx context.Context, ops []core.UpdateOp) error {
	if len(ops) == 0 {
		return nil
	}
	subject := ops[0].Index

	body, err := encodeBulk(ops)
	if err != nil {
		return failure.New(failure.UpdateRejected, subject, err)
	}

	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return failure.New(failure.StoreUnavailable, subject, fmt.Errorf("bulk update: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() {
		return failure.New(failure.UpdateRejected, subject,
			fmt.Errorf("bulk update: status %d: %s", res.StatusCode, readExcerpt(res.Body)))
	}

	var result bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return failure.New(failure.UpdateRejected, subject, fmt.Errorf("decode bulk response: %w", err))
	}
	if !result.Errors {
		return nil
	}

	var (
		rejected int
		details  []string
	)
	for _, item := range result.Items {
		for _, r := range item {
			if r.Error == nil {
				continue
			}
			rejected++
			if len(details) < maxReportedRejections {
				details = append(details, fmt.Sprintf("%s/%s: %s: %s", r.Index, r.ID, r.Error.Type, r.Error.Reason))
			}
		}
	}
	return failure.New(failure.UpdateRejected, subject,
		fmt.Errorf("%d of %d operations rejected: %s", rejected, len(ops), strings.Join(details, "; ")))
}

// encodeBulk renders ops as the NDJSON bulk body: an action line followed
// by a {"doc": ...} line per operation.
func encodeBulk(ops []core.UpdateOp) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, op := range ops {
		if op.Kind != core.OpUpdate {
			return nil, fmt.Errorf("unsupported bulk operation %q for %s/%s", op.Kind, op.Index, op.ID)
		}
		if err := enc.Encode(bulkMeta{Update: bulkTarget{Index: op.Index, ID: op.ID}}); err != nil {
			return nil, err
		}
		if err := enc.Encode(map[string]any{"doc": op.Doc}); err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", op.Index, op.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func readExcerpt(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
