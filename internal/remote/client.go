// Package remote talks to the image-localization service: one multipart
// upload in, one evaluation report out.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// ProcessPath is the service endpoint that runs OCR, translation, inpainting and synthesis.
	ProcessPath = "/process-image"
	// FileField is the multipart field carrying the raw image bytes.
	FileField = "file"
	// LanguageParam is the query parameter selecting the target language.
	LanguageParam = "target_language"
	// GenericFailure is reported when the service gives no detail.
	GenericFailure = "Upload failed"
)

// RemoteError is the only failure a run surfaces once it has started.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote processing failed (HTTP %d): %s", e.Status, e.Message)
	}
	return "remote processing failed: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Client submits images to the service. The zero timeout is deliberate: calls are
// bounded by the caller's context and the transport only.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for the service at serviceURL.
func NewClient(serviceURL, userAgent string) (*Client, error) {
	if serviceURL == "" {
		serviceURL = "http://localhost:8000"
	}
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported service URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serviceURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{},
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Submit performs exactly one request. It never retries.
func (c *Client) Submit(ctx context.Context, payload types.ImagePayload, lang types.TargetLanguage) (*types.EvaluationReport, error) {
	body, contentType, err := encodeUpload(payload)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}

	endpoint := c.baseURL + ProcessPath + "?" + url.Values{LanguageParam: {string(lang)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &RemoteError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	logger := log.With().Str("request_id", requestID).Str("language", string(lang)).Logger()
	logger.Debug().Str("image", payload.Name).Int("bytes", len(payload.Data)).Msg("Submitting image")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := detailMessage(raw)
		logger.Warn().Int("status", resp.StatusCode).Str("detail", msg).Msg("Service rejected image")
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}

	var report types.EvaluationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response: %v", err), Err: err}
	}
	for _, p := range report.Problems() {
		logger.Warn().Str("problem", p).Msg("Evaluation report does not match the contract")
	}
	logger.Debug().Int("status", resp.StatusCode).Msg("Evaluation report received")
	return &report, nil
}

func encodeUpload(payload types.ImagePayload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FileField, escapeQuotes(payload.Name)))
	h.Set("Content-Type", payload.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image bytes: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// detailMessage extracts {"detail": "..."} from an error body. Structured
// details (e.g. validation error lists) are not user-readable, so they get the generic message.
func detailMessage(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return GenericFailure
	}
	var detail string
	if err := json.Unmarshal(body.Detail, &detail); err != nil || detail == "" {
		return GenericFailure
	}
	return detail
}

// Message returns the user-facing text for err: the service detail for a RemoteError, else err's text.
func Message(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
