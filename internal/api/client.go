package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	opSync     = "sync"
	opUpload   = "upload_photo"
	opDownload = "download_photo"
	opToken    = "create_token"
	opUser     = "read_user"

	maxErrorBody = 4 << 10
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// zero timestamps count as missing for "required"
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		ts, ok := field.Interface().(Timestamp)
		if !ok || ts.IsZero() {
			return nil
		}
		return ts.Time
	}, Timestamp{})
	return v
}

// Validate checks a wire value against its validate tags
func Validate(v any) error {
	return validate.Struct(v)
}

// Client talks to the diary API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialProvider
}

// NewClient creates a client for baseURL (no trailing slash). A zero timeout
// falls back to 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetCredentials sets the provider used for authenticated requests
func (c *Client) SetCredentials(creds CredentialProvider) {
	c.creds = creds
}

// BaseURL returns the remote the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateToken exchanges a username and password for an access token
func (c *Client) CreateToken(ctx context.Context, username, password string) (*TokenDetail, error) {
	body, err := json.Marshal(TokenForm{Username: username, Password: password})
	if err != nil {
		return nil, &TransportError{Op: opToken, Kind: KindDecode, Err: err}
	}

	req, err := c.newRequest(ctx, opToken, http.MethodPost, "/api/v1/tokens", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var detail TokenDetail
	if err := c.doJSON(req, opToken, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ReadUser returns the account the current token belongs to
func (c *Client) ReadUser(ctx context.Context) (*UserDetail, error) {
	req, err := c.newRequest(ctx, opUser, http.MethodGet, "/api/v1/users/me", nil, true)
	if err != nil {
		return nil, err
	}

	var user UserDetail
	if err := c.doJSON(req, opUser, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Sync pushes a change set and returns the server's view of every entity it
// chose to return
func (c *Client) Sync(ctx context.Context, payload *SyncRequest) (*SyncResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: opSync, Kind: KindDecode, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := c.newRequest(ctx, opSync, http.MethodPost, "/api/v1/sync", bytes.NewReader(body), true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	var resp SyncResponse
	if err := c.doJSON(req, opSync, &resp); err != nil {
		return nil, err
	}

	slog.Debug("sync exchange completed",
		"pushed_trips", len(payload.Trips),
		"pushed_records", len(payload.Records),
		"pushed_photos", len(payload.Photos),
		"received_trips", len(resp.Trips),
		"received_records", len(resp.Records),
		"received_photos", len(resp.Photos),
		"duration_s", time.Since(start).Seconds())

	return &resp, nil
}

// UploadPhoto sends the bytes of a photo the server knows only by metadata
func (c *Client) UploadPhoto(ctx context.Context, id uuid.UUID, content []byte) (*PhotoDetail, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s.jpg"`, id))
	header.Set("Content-Type", http.DetectContentType(content))
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, &TransportError{Op: opUpload, Kind: KindNetwork, Err: fmt.Errorf("failed to create form part: %w", err)}
	}
	if _, err := part.Write(content); err != nil {
		return nil, &TransportError{Op: opUpload, Kind: KindNetwork, Err: fmt.Errorf("failed to write form part: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Op: opUpload, Kind: KindNetwork, Err: fmt.Errorf("failed to finish form: %w", err)}
	}

	req, err := c.newRequest(ctx, opUpload, http.MethodPost, "/api/v1/photos/"+id.String(), &buf, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var detail PhotoDetail
	if err := c.doJSON(req, opUpload, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// DownloadPhoto fetches the raw bytes of a photo
func (c *Client) DownloadPhoto(ctx context.Context, id uuid.UUID) ([]byte, error) {
	req, err := c.newRequest(ctx, opDownload, http.MethodGet, "/api/v1/photos/"+id.String(), nil, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, opDownload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: opDownload, Kind: KindNetwork, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return content, nil
}

// newRequest builds a request, attaching the bearer token when auth is set
func (c *Client) newRequest(ctx context.Context, op, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if auth {
		if c.creds == nil {
			return nil, &TransportError{Op: op, Kind: KindAuth, Err: ErrNoCredentials}
		}
		token, err := c.creds.Token(ctx)
		if err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return nil, &TransportError{Op: op, Kind: te.Kind, StatusCode: te.StatusCode, Err: err}
			}
			return nil, &TransportError{Op: op, Kind: KindAuth, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends the request and turns non-2xx responses into status errors
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Op:         op,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}
	return resp, nil
}

// doJSON sends the request and decodes and validates a JSON response
func (c *Client) doJSON(req *http.Request, op string, target any) error {
	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &TransportError{Op: op, Kind: KindDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if err := validate.Struct(target); err != nil {
		return &TransportError{Op: op, Kind: KindDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response: %w", err)}
	}
	return nil
}
