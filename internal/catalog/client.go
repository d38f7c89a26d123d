// Package catalog talks to the remote metadata store: the structured
// per-file metadata API of the storage platform. It exposes the three
// primitive operations (get, create, patch) and the Syncer, which
// composes them into the idempotent create-then-diff-patch protocol.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type Config struct {
	BaseURL     string `yaml:"base_url" env:"CATALOG_BASE_URL" validate:"required"`
	APIKey      string `yaml:"api_key" env:"CATALOG_API_KEY"`
	TemplateKey string `yaml:"template_key" env:"CATALOG_TEMPLATE_KEY" env-default:"assetEnrichment"`
}

var (
	// ErrNotFound reports that no metadata instance exists for the file
	// and template.
	ErrNotFound = errors.New("no metadata instance exists for file")

	// ErrConflict reports that a metadata instance already exists; the
	// caller should fetch and patch instead.
	ErrConflict = errors.New("metadata instance already exists for file")
)

// PatchOp is one add/replace operation of a diff-patch update.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Store is the narrow interface the Syncer (and the scheduler's
// existence probe) consume. Satisfied by *Client.
type Store interface {
	GetMetadata(ctx context.Context, fileID string, templateKey string) (map[string]any, error)
	CreateMetadata(ctx context.Context, fileID string, templateKey string, fields map[string]any) error
	PatchMetadata(ctx context.Context, fileID string, templateKey string, ops []PatchOp) error
}

type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) *Client {
	return &Client{config: config, http: http.DefaultClient}
}

func (client *Client) metadataURL(fileID string, templateKey string) string {
	return fmt.Sprintf("%s/files/%s/metadata/%s", client.config.BaseURL, fileID, templateKey)
}

// GetMetadata fetches the current metadata instance for the file, or
// ErrNotFound when none exists.
func (client *Client) GetMetadata(ctx context.Context, fileID string, templateKey string) (map[string]any, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.metadataURL(fileID, templateKey), nil)
	if err != nil {
		return nil, err
	}

	body, err := client.do(request)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("metadata response could not be unmarshalled: %w", err)
	}

	return fields, nil
}

// CreateMetadata creates a fresh metadata instance. ErrConflict is
// returned when an instance already exists.
func (client *Client) CreateMetadata(ctx context.Context, fileID string, templateKey string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode metadata fields: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.metadataURL(fileID, templateKey), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	_, err = client.do(request)
	return err
}

// PatchMetadata applies a list of add/replace operations to the
// existing metadata instance.
func (client *Client) PatchMetadata(ctx context.Context, fileID string, templateKey string, ops []PatchOp) error {
	payload, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode patch operations: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPatch, client.metadataURL(fileID, templateKey), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json-patch+json")

	_, err = client.do(request)
	return err
}

func (client *Client) do(request *http.Request) ([]byte, error) {
	if client.config.APIKey != "" {
		request.Header.Set("Authorization", "Bearer "+client.config.APIKey)
	}

	response, err := client.http.Do(request)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(response.Body)
	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case response.StatusCode == http.StatusConflict:
		return nil, ErrConflict
	case response.StatusCode >= 400:
		return nil, &failedRequestError{httpCode: response.StatusCode, message: string(body)}
	case readErr != nil:
		return nil, fmt.Errorf("failed to read metadata store response: %w", readErr)
	default:
		return body, nil
	}
}

type (
	failedRequestError struct {
		httpCode int
		message  string
	}

	transportError struct{ cause error }
)

func (err *failedRequestError) Error() string {
	return fmt.Sprintf("metadata store request failure (HTTP %d): %s", err.httpCode, err.message)
}

// Transient marks the rate-limit and server error classes as
// retryable; client errors are permanent.
func (err *failedRequestError) Transient() bool {
	return err.httpCode == http.StatusTooManyRequests || err.httpCode >= http.StatusInternalServerError
}

func (err *transportError) Error() string {
	return fmt.Sprintf("metadata store unreachable: %s", err.cause.Error())
}
func (err *transportError) Unwrap() error   { return err.cause }
func (err *transportError) Transient() bool { return true }
