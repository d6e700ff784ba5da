// Package remote implements the Store interface against a mirror server
// over its HTTP surface.
//
// The sync engine is written against store.Store only, so this client is
// what makes a peer instance look like just another store. Every call is
// a single bounded request; there are no sessions and no shared locks
// with the remote side, matching the reconciliation protocol's
// assumption that the mirror is independently mutable.
package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

const defaultTimeout = 30 * time.Second

// Client talks to a mirror server. Implements store.Store.
type Client struct {
	baseURL string
	hc      *http.Client
}

// Compile-time check that *Client implements store.Store.
var _ store.Store = (*Client)(nil)

// New creates a mirror client for the server at baseURL
// (e.g. "http://peer:5600").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
}

// Close is a no-op; the client holds no persistent connection state.
func (c *Client) Close() error { return nil }

// --- Bucket registry ---

func (c *Client) Buckets() (map[string]model.Bucket, error) {
	var buckets map[string]model.Bucket
	if err := c.do(http.MethodGet, "/api/0/buckets", nil, nil, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (c *Client) GetBucket(bucketID string) (model.Bucket, error) {
	var b model.Bucket
	err := c.do(http.MethodGet, "/api/0/buckets/"+url.PathEscape(bucketID), nil, nil, &b)
	return b, err
}

// createResponse mirrors the create-bucket endpoint's payload.
type createResponse struct {
	Created bool `json:"created"`
}

func (c *Client) CreateBucket(b model.Bucket) error {
	var resp createResponse
	if err := c.do(http.MethodPost, "/api/0/buckets/"+url.PathEscape(b.ID), nil, b, &resp); err != nil {
		return err
	}
	if !resp.Created {
		return fmt.Errorf("bucket %q: %w", b.ID, store.ErrExists)
	}
	return nil
}

func (c *Client) UpdateBucket(bucketID string, patch model.BucketPatch) error {
	return c.do(http.MethodPut, "/api/0/buckets/"+url.PathEscape(bucketID), nil, patch, nil)
}

func (c *Client) DeleteBucket(bucketID string) error {
	return c.do(http.MethodDelete, "/api/0/buckets/"+url.PathEscape(bucketID), nil, nil, nil)
}

// --- Event log ---

// InsertEvents posts events to the mirror. The mirror assigns ids to
// events that lack one; since the server reports back only the
// single-event case, callers that need stable ids across stores (the
// sync engine) must send events that already carry them.
func (c *Client) InsertEvents(bucketID string, events []model.Event) ([]model.Event, error) {
	var inserted *model.Event
	err := c.do(http.MethodPost, c.eventsPath(bucketID), nil, events, &inserted)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, len(events))
	copy(out, events)
	if len(out) == 1 && inserted != nil {
		out[0] = *inserted
	}
	return out, nil
}

func (c *Client) Events(bucketID string, limit int, start, end *time.Time) ([]model.Event, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if start != nil {
		q.Set("start", start.Format(time.RFC3339Nano))
	}
	if end != nil {
		q.Set("end", end.Format(time.RFC3339Nano))
	}
	var events []model.Event
	if err := c.do(http.MethodGet, c.eventsPath(bucketID), q, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) LastEvent(bucketID string) (*model.Event, error) {
	var e *model.Event
	err := c.do(http.MethodGet, c.eventsPath(bucketID)+"/last", nil, nil, &e)
	if isNotFound(err) {
		return nil, nil
	}
	return e, err
}

func (c *Client) EventByID(bucketID string, eventID int64) (*model.Event, error) {
	var e *model.Event
	err := c.do(http.MethodGet, c.eventPath(bucketID, eventID), nil, nil, &e)
	if isNotFound(err) {
		return nil, nil
	}
	return e, err
}

// deleteResponse mirrors the delete-event endpoint's payload.
type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func (c *Client) DeleteEvent(bucketID string, eventID int64) (bool, error) {
	var resp deleteResponse
	err := c.do(http.MethodDelete, c.eventPath(bucketID, eventID), nil, nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

func (c *Client) ReplaceLastEvent(bucketID string, e model.Event) error {
	return c.do(http.MethodPut, c.eventsPath(bucketID)+"/last", nil, e, nil)
}

func (c *Client) ReplaceEvent(bucketID string, eventID int64, e model.Event) error {
	return c.do(http.MethodPut, c.eventPath(bucketID, eventID), nil, e, nil)
}

func (c *Client) CountEvents(bucketID string, start, end *time.Time) (int, error) {
	q := url.Values{}
	if start != nil {
		q.Set("start", start.Format(time.RFC3339Nano))
	}
	if end != nil {
		q.Set("end", end.Format(time.RFC3339Nano))
	}
	var count int
	if err := c.do(http.MethodGet, c.eventsPath(bucketID)+"/count", q, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- Plumbing ---

func (c *Client) eventsPath(bucketID string) string {
	return "/api/0/buckets/" + url.PathEscape(bucketID) + "/events"
}

func (c *Client) eventPath(bucketID string, eventID int64) string {
	return c.eventsPath(bucketID) + "/" + strconv.FormatInt(eventID, 10)
}

// errorResponse is the server's error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// do performs one JSON request. Non-2xx statuses are mapped back onto the
// store error taxonomy so errors.Is works identically against either
// backend.
func (c *Client) do(method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %s: %w", method, path, er.Error, store.ErrNotFound)
		case http.StatusBadRequest:
			return fmt.Errorf("%s %s: %s: %w", method, path, er.Error, store.ErrBadRequest)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, er.Error)
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
