package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Guizzs26/shop-sync/internal/auth"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

const (
	MauticName = "mautic"

	maxResponseBody = 1 << 20
	maxSnippet      = 300
)

// body is one encoded request body variant
type body struct {
	contentType string
	data        []byte
}

func jsonBody(v any) body {
	b, _ := json.Marshal(v)
	return body{contentType: "application/json", data: b}
}

func formBody(v url.Values) body {
	return body{contentType: "application/x-www-form-urlencoded", data: []byte(v.Encode())}
}

// TagEncoder renders the tag list in one of the shapes contact API installs
// accept. ok=false skips the strategy for this tag list.
type TagEncoder struct {
	Name   string
	Encode func(tags []string) (body, bool)
}

// TagEncoders are tried in order against every tag path; the first 200/201 wins
var TagEncoders = []TagEncoder{
	{Name: "json-csv", Encode: func(tags []string) (body, bool) {
		return jsonBody(map[string]string{"tags": strings.Join(tags, ",")}), true
	}},
	{Name: "json-array", Encode: func(tags []string) (body, bool) {
		return jsonBody(map[string][]string{"tags": tags}), true
	}},
	{Name: "json-single", Encode: func(tags []string) (body, bool) {
		if len(tags) != 1 {
			return body{}, false
		}
		return jsonBody(map[string]string{"tag": tags[0]}), true
	}},
	{Name: "form", Encode: func(tags []string) (body, bool) {
		return formBody(url.Values{"tags": {strings.Join(tags, ",")}}), true
	}},
}

// NoteEncoder renders a note for a contact
type NoteEncoder struct {
	Name   string
	Encode func(contactID int64, text string) body
}

var NoteEncoders = []NoteEncoder{
	{Name: "json-nested", Encode: func(id int64, text string) body {
		return jsonBody(map[string]any{"note": map[string]any{"type": "general", "text": text, "lead": id}})
	}},
	{Name: "json-flat", Encode: func(id int64, text string) body {
		return jsonBody(map[string]any{"type": "general", "text": text, "lead": id})
	}},
	{Name: "form", Encode: func(id int64, text string) body {
		return formBody(url.Values{
			"note[lead]": {strconv.FormatInt(id, 10)},
			"note[type]": {"general"},
			"note[text]": {text},
		})
	}},
}

// Mautic reconciles contacts against a Mautic style REST API: search by
// email, edit or create, then attach tags and a note.
type Mautic struct {
	apiBase string
	client  *auth.Client
	logger  *slog.Logger
}

func NewMautic(baseURL string, client *auth.Client, logger *slog.Logger) *Mautic {
	return &Mautic{
		apiBase: strings.TrimRight(baseURL, "/") + "/api/",
		client:  client,
		logger:  logger.With("channel", MauticName),
	}
}

func (m *Mautic) Name() string { return MauticName }

// Send upserts the contact. Only the contact call decides the result; tag
// and note failures are logged.
func (m *Mautic) Send(ctx context.Context, req Request) Result {
	email := req.Email()
	if email == "" {
		return Fatal(&syncerr.MissingNaturalKeyError{Entity: "order", Key: "email", Ref: strconv.FormatInt(req.RemoteID, 10)})
	}
	l := m.logger.With("remote_id", req.RemoteID, "email", email)

	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return Fatal(fmt.Errorf("encode contact fields: %w", err))
	}

	id, err := m.upsert(ctx, l, email, fields)
	if err != nil {
		return Retry(err)
	}

	if len(req.Payload.Tags) > 0 {
		if enc, ok := m.addTags(ctx, id, req.Payload.Tags); ok {
			l.Debug("🏷️ Tags attached", "contact_id", id, "encoder", enc)
		} else {
			l.Warn("Could not attach tags", "contact_id", id, "tags", req.Payload.Tags)
		}
	}
	if note := strings.TrimSpace(req.Payload.Note); note != "" {
		if !m.addNote(ctx, id, note) {
			l.Warn("Could not create note", "contact_id", id)
		}
	}

	return OK(strconv.FormatInt(id, 10))
}

func (m *Mautic) upsert(ctx context.Context, l *slog.Logger, email string, fields []byte) (int64, error) {
	id, found, err := m.search(ctx, email)
	if err != nil {
		return 0, err
	}
	if found {
		err := m.edit(ctx, id, fields)
		if err == nil {
			return id, nil
		}
		if syncerr.IsAuth(err) {
			return 0, err
		}
		l.Warn("Contact edit failed, creating a new one", "contact_id", id, "error", err)
	}
	return m.create(ctx, fields)
}

// search returns the first contact id matching email. 5xx and transport
// failures are errors; any other non-200 counts as not found.
func (m *Mautic) search(ctx context.Context, email string) (int64, bool, error) {
	path := "contacts?search=" + url.QueryEscape("email:"+email)
	status, data, err := m.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, false, err
	}
	if status >= 500 {
		return 0, false, &syncerr.UpstreamHTTPError{Op: "search contact", Status: status, Body: snippet(data)}
	}
	if status != http.StatusOK {
		return 0, false, nil
	}

	var res struct {
		Total    json.RawMessage `json:"total"`
		Contacts json.RawMessage `json:"contacts"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return 0, false, &syncerr.MalformedResponseError{Op: "search contact", Err: err}
	}
	if n, _ := strconv.Atoi(strings.Trim(string(res.Total), `"`)); n <= 0 {
		return 0, false, nil
	}
	id, err := firstKey(res.Contacts)
	if err != nil {
		return 0, false, &syncerr.MalformedResponseError{Op: "search contact", Err: err}
	}
	return id, id > 0, nil
}

// firstKey reads the first member name of a JSON object in document order
func firstKey(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		// an empty result may come back as []
		return 0, nil
	}
	if !dec.More() {
		return 0, nil
	}
	tok, err = dec.Token()
	if err != nil {
		return 0, err
	}
	key, _ := tok.(string)
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("contact key %q is not an id", key)
	}
	return id, nil
}

func (m *Mautic) edit(ctx context.Context, id int64, fields []byte) error {
	path := "contacts/" + strconv.FormatInt(id, 10) + "/edit"
	status, data, err := m.call(ctx, http.MethodPatch, path, &body{contentType: "application/json", data: fields})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return &syncerr.UpstreamHTTPError{Op: "edit contact", Status: status, Body: snippet(data)}
	}
	return nil
}

func (m *Mautic) create(ctx context.Context, fields []byte) (int64, error) {
	status, data, err := m.call(ctx, http.MethodPost, "contacts/new", &body{contentType: "application/json", data: fields})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return 0, &syncerr.UpstreamHTTPError{Op: "create contact", Status: status, Body: snippet(data)}
	}

	var res struct {
		Contact struct {
			ID json.Number `json:"id"`
		} `json:"contact"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return 0, &syncerr.MalformedResponseError{Op: "create contact", Err: err}
	}
	id, err := res.Contact.ID.Int64()
	if err != nil || id <= 0 {
		return 0, &syncerr.MalformedResponseError{Op: "create contact", Err: errors.New("response without contact.id")}
	}
	return id, nil
}

// addTags returns the name of the encoder that succeeded
func (m *Mautic) addTags(ctx context.Context, id int64, tags []string) (string, bool) {
	paths := []string{
		"contacts/" + strconv.FormatInt(id, 10) + "/tags/add",
		"contacts/" + strconv.FormatInt(id, 10) + "/tag/add",
	}
	for _, enc := range TagEncoders {
		b, ok := enc.Encode(tags)
		if !ok {
			continue
		}
		for _, p := range paths {
			status, data, err := m.call(ctx, http.MethodPost, p, &b)
			if err == nil && (status == http.StatusOK || status == http.StatusCreated) {
				return enc.Name, true
			}
			m.logger.Debug("Tag attempt rejected", "encoder", enc.Name, "path", p, "status", status, "body", snippet(data), "error", err)
		}
	}
	return "", false
}

func (m *Mautic) addNote(ctx context.Context, id int64, text string) bool {
	for _, enc := range NoteEncoders {
		b := enc.Encode(id, text)
		status, data, err := m.call(ctx, http.MethodPost, "notes/new", &b)
		if err == nil && (status == http.StatusOK || status == http.StatusCreated) {
			return true
		}
		m.logger.Debug("Note attempt rejected", "encoder", enc.Name, "status", status, "body", snippet(data), "error", err)
	}
	return false
}

// call sends one request through the authorizing client. A 401 that
// survives the token refresh becomes an AuthError.
func (m *Mautic) call(ctx context.Context, method, path string, b *body) (int, []byte, error) {
	target := m.apiBase + path
	resp, err := m.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var rd io.Reader
		if b != nil {
			rd = bytes.NewReader(b.data)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if b != nil {
			req.Header.Set("Content-Type", b.contentType)
		}
		return req, nil
	})
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, &syncerr.TransportError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, data, &syncerr.AuthError{Integration: "contact", Status: resp.StatusCode, Diagnostic: "unauthorized after token refresh"}
	}
	return resp.StatusCode, data, nil
}

// snippet caps a response body at maxSnippet runes for logs and errors
func snippet(b []byte) string {
	r := []rune(strings.TrimSpace(string(b)))
	if len(r) > maxSnippet {
		r = r[:maxSnippet]
	}
	return string(r)
}
