// Package connect talks to a running Anki instance through the AnkiConnect
// add-on and imports definitions into it directly.
package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/starford/deckpack/internal/apperr"
)

// Defaults.
const (
	DefaultURL     = "http://127.0.0.1:8765"
	DefaultTimeout = 30 * time.Second
	APIVersion     = 6
)

// Config holds the AnkiConnect endpoint settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client sends actions to AnkiConnect.
type Client struct {
	url  string
	key  string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client. Zero config values fall back to the defaults.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		url:  cfg.URL,
		key:  cfg.APIKey,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Key     string `json:"key,omitempty"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// ActionError is an error reported by AnkiConnect for one action.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("ankiconnect %s: %s", e.Action, e.Message)
}

func (e *ActionError) Is(target error) bool { return target == apperr.ErrRemote }

// Invoke runs one action and decodes its result into out (which may be nil).
func (c *Client) Invoke(ctx context.Context, action string, params, out any) error {
	body, err := json.Marshal(request{Action: action, Version: APIVersion, Key: c.key, Params: params})
	if err != nil {
		return fmt.Errorf("connect: encode %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connect: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %s: %w: %w", action, apperr.ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("connect: %s: status %d: %s: %w", action, resp.StatusCode, snippet, apperr.ErrRemote)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("connect: decode %s: %w: %w", action, apperr.ErrRemote, err)
	}
	if r.Error != nil {
		return &ActionError{Action: action, Message: *r.Error}
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("connect: decode %s result: %w", action, err)
	}
	return nil
}

// Version returns the AnkiConnect API version.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	err := c.Invoke(ctx, "version", nil, &v)
	return v, err
}

// DeckNames lists every deck.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.Invoke(ctx, "deckNames", nil, &names)
	return names, err
}

// CreateDeck creates a deck (and any missing parents) and returns its id.
func (c *Client) CreateDeck(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.Invoke(ctx, "createDeck", map[string]string{"deck": name}, &id)
	return id, err
}

// ModelNames lists every note type.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.Invoke(ctx, "modelNames", nil, &names)
	return names, err
}

// CardTemplate is a createModel template.
type CardTemplate struct {
	Name  string `json:"Name"`
	Front string `json:"Front"`
	Back  string `json:"Back"`
}

// CreateModelParams are the createModel parameters.
type CreateModelParams struct {
	ModelName     string         `json:"modelName"`
	InOrderFields []string       `json:"inOrderFields"`
	CSS           string         `json:"css,omitempty"`
	IsCloze       bool           `json:"isCloze"`
	CardTemplates []CardTemplate `json:"cardTemplates"`
}

// CreateModel creates a note type.
func (c *Client) CreateModel(ctx context.Context, p CreateModelParams) error {
	return c.Invoke(ctx, "createModel", p, nil)
}

// StoreMediaFile stores base64 content in the collection's media folder and
// returns the stored name.
func (c *Client) StoreMediaFile(ctx context.Context, filename, data string) (string, error) {
	var stored string
	err := c.Invoke(ctx, "storeMediaFile", map[string]string{"filename": filename, "data": data}, &stored)
	return stored, err
}

// NoteOptions controls duplicate handling for addNotes.
type NoteOptions struct {
	AllowDuplicate bool   `json:"allowDuplicate"`
	DuplicateScope string `json:"duplicateScope,omitempty"`
}

// Note is an addNotes entry.
type Note struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
	Options   *NoteOptions      `json:"options,omitempty"`
}

// AddNotes adds notes in one batch. The result has one entry per note: the
// new id, or nil when the note was rejected.
func (c *Client) AddNotes(ctx context.Context, notes []Note) ([]*int64, error) {
	var out []*int64
	err := c.Invoke(ctx, "addNotes", map[string]any{"notes": notes}, &out)
	return out, err
}
