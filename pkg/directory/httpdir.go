package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sage/pkg/protocol"
)

// HTTPDirectory talks JSON over HTTP to a remote session directory service.
// Subscribe long-polls /events and feeds a channel; everything else is a
// plain request/response call.
type HTTPDirectory struct {
	base      string
	namespace string
	client    *http.Client
}

// NewHTTP creates an HTTPDirectory for the given base URL and namespace.
func NewHTTP(base, namespace string) *HTTPDirectory {
	return &HTTPDirectory{
		base:      base,
		namespace: namespace,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// GetSession returns a session by id.
func (d *HTTPDirectory) GetSession(ctx context.Context, id string) (*protocol.Session, error) {
	var s protocol.Session
	err := d.get(ctx, "/sessions/"+url.PathEscape(id), &s)
	if err != nil {
		if isNotFound(err) {
			return nil, &protocol.SessionNotFoundError{SessionID: id}
		}
		return nil, err
	}
	return &s, nil
}

// ActiveSessions lists non-ended sessions in a namespace.
func (d *HTTPDirectory) ActiveSessions(ctx context.Context, namespace string) ([]protocol.Session, error) {
	var out []protocol.Session
	if err := d.get(ctx, "/sessions?namespace="+url.QueryEscape(namespace), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OnlineMachines lists online machines in a namespace.
func (d *HTTPDirectory) OnlineMachines(ctx context.Context, namespace string) ([]protocol.Machine, error) {
	var out []protocol.Machine
	if err := d.get(ctx, "/machines?namespace="+url.QueryEscape(namespace)+"&online=true", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Spawn starts a session on a machine.
func (d *HTTPDirectory) Spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error) {
	var res SpawnResult
	if err := d.post(ctx, "/sessions", req, &res); err != nil {
		return SpawnResult{}, err
	}
	return res, nil
}

// SendMessage delivers text into a session.
func (d *HTTPDirectory) SendMessage(ctx context.Context, sessionID, text, sender string) error {
	body := map[string]string{"text": text, "sender": sender}
	return d.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/messages", body, nil)
}

// MessagesAfter fetches up to limit messages with seq > after.
func (d *HTTPDirectory) MessagesAfter(ctx context.Context, sessionID string, after int64, limit int) ([]protocol.Message, error) {
	path := fmt.Sprintf("/sessions/%s/messages?after=%s&limit=%d",
		url.PathEscape(sessionID), strconv.FormatInt(after, 10), limit)
	var out []protocol.Message
	if err := d.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe long-polls the directory's event endpoint and feeds the returned
// channel. Poll errors back off briefly rather than closing the stream; the
// channel closes only when ctx is cancelled.
func (d *HTTPDirectory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		var cursor int64
		for {
			if ctx.Err() != nil {
				return
			}
			path := fmt.Sprintf("/events?namespace=%s&after=%d&wait=30s",
				url.QueryEscape(d.namespace), cursor)
			var batch struct {
				Cursor int64   `json:"cursor"`
				Events []Event `json:"events"`
			}
			if err := d.get(ctx, path, &batch); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}
			cursor = batch.Cursor
			for _, ev := range batch.Events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// Emit broadcasts a synthetic event through the directory.
func (d *HTTPDirectory) Emit(ctx context.Context, ev Event) error {
	return d.post(ctx, "/events", ev, nil)
}

// --- HTTP plumbing ---

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("directory returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*httpStatusError)
	return ok && se.code == http.StatusNotFound
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
	if err != nil {
		return fmt.Errorf("build GET %s: %w", path, err)
	}
	return d.do(req, out)
}

func (d *HTTPDirectory) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal POST %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, out)
}

func (d *HTTPDirectory) do(req *http.Request, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read directory response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode, body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}
