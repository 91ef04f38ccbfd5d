package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrNetwork  = errors.New("agent unreachable")
	ErrBadReply = errors.New("malformed agent reply")
)

// HTTPError is returned for any non-2xx answer. The body is kept for logs only.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("agent http status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient posts multipart submissions to the agent endpoint.
type HTTPClient struct {
	base     *url.URL
	endpoint string
	userID   string
	client   *http.Client
	now      func() time.Time
}

func NewHTTPClient(baseURL, path, userID string, timeout time.Duration) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse agent base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("agent base url must be http(s), got %q", baseURL)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/api/movi"
	}
	endpoint, err := base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse agent path: %w", err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		base:     base,
		endpoint: endpoint.String(),
		userID:   strings.TrimSpace(userID),
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}, nil
}

// BaseURL is the host relative audio locators are resolved against.
func (c *HTTPClient) BaseURL() string { return c.base.String() }

func (c *HTTPClient) Submit(ctx context.Context, req Request) (Reply, error) {
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}
	body, contentType, err := c.encode(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.userID != "" {
		httpReq.Header.Set("X-User-ID", c.userID)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, &HTTPError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	return ParseReply(raw)
}

func (c *HTTPClient) encode(req Request) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	ms := strconv.FormatInt(c.now().UnixMilli(), 10)

	if err := mw.WriteField("type", string(req.Kind)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("currentPage", string(req.Page)); err != nil {
		return nil, "", err
	}
	if text := strings.TrimSpace(req.Text); text != "" {
		if err := mw.WriteField("text", text); err != nil {
			return nil, "", err
		}
	}
	if req.ThreadID != "" {
		if err := mw.WriteField("thread_id", req.ThreadID); err != nil {
			return nil, "", err
		}
	}
	if len(req.Audio) > 0 {
		if err := writeFile(mw, "audio", "voice_"+ms+".wav", req.Audio); err != nil {
			return nil, "", err
		}
	}
	if len(req.Image) > 0 {
		if err := writeFile(mw, "image", "image_"+ms+".png", req.Image); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func writeFile(mw *multipart.Writer, field, name string, data []byte) error {
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

// ParseReply decodes the agent's JSON answer. Scalar fields are accepted in any JSON
// scalar form so a numeric thread_id survives the round trip.
func ParseReply(raw []byte) (Reply, error) {
	if !gjson.ValidBytes(raw) {
		return Reply{}, fmt.Errorf("%w: invalid json", ErrBadReply)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Reply{}, fmt.Errorf("%w: expected object, got %s", ErrBadReply, doc.Type)
	}
	return Reply{
		ResponseText:      scalar(doc.Get("response")),
		AudioLocator:      scalar(doc.Get("audio_url")),
		ThreadID:          scalar(doc.Get("thread_id")),
		NeedsConfirmation: doc.Get("needs_confirmation").Bool(),
	}, nil
}

func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return strings.TrimSpace(r.String())
	default:
		return ""
	}
}

// ResolveAudioURL makes a reply's audio locator absolute. Absolute http(s) locators
// are returned unchanged; anything else is resolved against base.
func ResolveAudioURL(base, locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", errors.New("empty audio locator")
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse audio locator: %w", err)
	}
	if ref.Scheme == "http" || ref.Scheme == "https" {
		return ref.String(), nil
	}
	if ref.Scheme != "" {
		return "", fmt.Errorf("unsupported audio locator scheme %q", ref.Scheme)
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || b.Host == "" {
		return "", fmt.Errorf("invalid agent base url %q", base)
	}
	return b.ResolveReference(ref).String(), nil
}
