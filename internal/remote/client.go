// Package remote talks to the scene description and music generation
// endpoints. Each call is one request/response cycle with no retry.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
)

// maxErrorBody caps how much of a failed response is kept in a ServiceError.
const maxErrorBody = 2048

// ServiceError reports a failed call to either remote endpoint. StatusCode is
// zero when the request never got a response.
type ServiceError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Status)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client calls the description and generation endpoints.
type Client struct {
	describeURL string
	generateURL string
	http        *http.Client
}

// NewClient creates a client. The HTTP client carries no timeout: the
// services are expected to always answer, and callers bound the call through
// the context when they need to.
func NewClient(describeURL, generateURL string) *Client {
	return &Client{
		describeURL: describeURL,
		generateURL: generateURL,
		http:        &http.Client{},
	}
}

type describeRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type generateRequest struct {
	SettingDescription json.RawMessage `json:"setting_description"`
	track.SceneContext
}

// DescribeScene posts the encoded image and returns the response body as the
// description, unvalidated. A body that is not JSON is wrapped as a JSON
// string so it can be forwarded in the generation request.
func (c *Client) DescribeScene(ctx context.Context, encodedPayload string) (json.RawMessage, error) {
	body, err := c.post(ctx, "describe_image", c.describeURL, describeRequest{ImageBase64: encodedPayload})
	if err != nil {
		return nil, err
	}

	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil, fmt.Errorf("quote description: %w", err)
	}
	return quoted, nil
}

// GenerateMusic posts the description with the scene context and decodes the
// returned songs.
func (c *Client) GenerateMusic(ctx context.Context, description json.RawMessage, scene track.SceneContext) (*track.GenerationResult, error) {
	if len(description) == 0 {
		description = json.RawMessage(`""`)
	}
	body, err := c.post(ctx, "generate_music", c.generateURL, generateRequest{
		SettingDescription: description,
		SceneContext:       scene,
	})
	if err != nil {
		return nil, err
	}
	return track.Decode(body)
}

func (c *Client) post(ctx context.Context, endpoint, url string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log := logrus.WithField("endpoint", endpoint)
	log.WithField("bytes", len(jsonBody)).Debug("Calling remote service")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.WithField("status", resp.StatusCode).Warn("Remote service returned failure status")
		return nil, &ServiceError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(bodyBytes)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	return body, nil
}
