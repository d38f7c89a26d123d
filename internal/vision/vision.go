// Package vision adapts an external image-analysis backend for the
// enrichment pipeline. The backend is asked for a fixed feature set
// (object localization, labels, text, image properties, safe search and
// faces) and its response is normalized into an Analysis, with a
// synthesized one-line scene description.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hbomb79/Iris/internal/exif"
	"github.com/hbomb79/Iris/pkg/retry"
)

// DefaultMaxImageBytes is the backend's hard request ceiling.
const DefaultMaxImageBytes = 20 * 1024 * 1024

type Config struct {
	BaseURL       string `yaml:"base_url" env:"VISION_BASE_URL" validate:"required"`
	APIKey        string `yaml:"api_key" env:"VISION_API_KEY"`
	MaxImageBytes int64  `yaml:"max_image_bytes" env:"VISION_MAX_IMAGE_BYTES"`
}

type (
	Object struct {
		Name       string
		Confidence float64
	}

	Label struct {
		Description string
		Confidence  float64
	}

	Color struct {
		RGB           string
		Score         float64
		PixelFraction float64
	}

	// Analysis is the normalized output of one backend call.
	Analysis struct {
		Objects             []Object
		Labels              []Label
		Text                string
		Colors              []Color
		FaceCount           int
		AggregateConfidence float64
		SceneDescription    string
	}
)

type Client struct {
	config Config
	policy retry.Policy
	http   *http.Client
}

func NewClient(config Config, policy retry.Policy) *Client {
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = DefaultMaxImageBytes
	}

	return &Client{config: config, policy: policy, http: http.DefaultClient}
}

// Analyze submits the image bytes for the fixed feature set and
// normalizes the response. Empty, oversize or unrecognisable input is
// rejected with a typed error before any backend call is made.
func (client *Client) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	if len(image) == 0 {
		return nil, &EmptyImageError{}
	}

	if int64(len(image)) > client.config.MaxImageBytes {
		return nil, &OversizeImageError{Size: int64(len(image)), Limit: client.config.MaxImageBytes}
	}

	if exif.DetectContainer(image) == exif.ContainerUnknown {
		return nil, &UnsupportedFormatError{}
	}

	var annotated annotateResponse
	err := client.policy.Do(ctx, func() error {
		return client.postAnnotate(ctx, image, &annotated)
	})
	if err != nil {
		return nil, err
	}

	if len(annotated.Responses) == 0 {
		return nil, &UnknownRequestError{reason: "backend returned no response entries"}
	}

	response := annotated.Responses[0]
	if response.Error != nil {
		return nil, &FailedRequestError{httpCode: http.StatusOK, backendCode: response.Error.Code, message: response.Error.Message}
	}

	analysis := normalize(&response)
	analysis.SceneDescription = synthesizeScene(analysis)
	return analysis, nil
}

// requestedFeatures is the fixed feature set; the backend prices and
// rate-limits per feature, so this list is deliberately static.
var requestedFeatures = []annotateFeature{
	{Type: "OBJECT_LOCALIZATION"},
	{Type: "LABEL_DETECTION"},
	{Type: "TEXT_DETECTION"},
	{Type: "IMAGE_PROPERTIES"},
	{Type: "SAFE_SEARCH_DETECTION"},
	{Type: "FACE_DETECTION"},
}

func (client *Client) postAnnotate(ctx context.Context, image []byte, target *annotateResponse) error {
	payload, err := json.Marshal(annotateRequest{
		Requests: []annotateEntry{{
			Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: requestedFeatures,
		}},
	})
	if err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("failed to encode request: %s", err.Error())}
	}

	url := fmt.Sprintf("%s/v1/images:annotate?key=%s", client.config.BaseURL, client.config.APIKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &UnknownRequestError{reason: err.Error()}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return &TransportError{cause: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK {
		return &FailedRequestError{httpCode: response.StatusCode, message: string(body)}
	}

	if err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	return nil
}

func normalize(response *annotateEntryResponse) *Analysis {
	analysis := &Analysis{}

	for _, object := range response.Objects {
		analysis.Objects = append(analysis.Objects, Object{Name: object.Name, Confidence: object.Score})
	}

	confidenceSum := 0.0
	for _, label := range response.Labels {
		analysis.Labels = append(analysis.Labels, Label{Description: label.Description, Confidence: label.Score})
		confidenceSum += label.Score
	}
	if len(analysis.Labels) > 0 {
		analysis.AggregateConfidence = confidenceSum / float64(len(analysis.Labels))
	}

	// The first text annotation carries the full freeform transcription;
	// subsequent entries repeat it word by word.
	if len(response.Texts) > 0 {
		analysis.Text = response.Texts[0].Description
	}

	for _, color := range response.Properties.DominantColors.Colors {
		analysis.Colors = append(analysis.Colors, Color{
			RGB:           fmt.Sprintf("#%02X%02X%02X", color.Color.Red, color.Color.Green, color.Color.Blue),
			Score:         color.Score,
			PixelFraction: color.PixelFraction,
		})
	}

	analysis.FaceCount = len(response.Faces)
	return analysis
}

// Wire types for the backend's annotate endpoint.
type (
	annotateRequest struct {
		Requests []annotateEntry `json:"requests"`
	}

	annotateEntry struct {
		Image    annotateImage     `json:"image"`
		Features []annotateFeature `json:"features"`
	}

	annotateImage struct {
		Content string `json:"content"`
	}

	annotateFeature struct {
		Type string `json:"type"`
	}

	annotateResponse struct {
		Responses []annotateEntryResponse `json:"responses"`
	}

	annotateEntryResponse struct {
		Labels     []labelAnnotation  `json:"labelAnnotations"`
		Objects    []objectAnnotation `json:"localizedObjectAnnotations"`
		Texts      []textAnnotation   `json:"textAnnotations"`
		Properties imageProperties    `json:"imagePropertiesAnnotation"`
		Faces      []json.RawMessage  `json:"faceAnnotations"`
		Error      *backendError      `json:"error"`
	}

	labelAnnotation struct {
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	}

	objectAnnotation struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	textAnnotation struct {
		Description string `json:"description"`
	}

	imageProperties struct {
		DominantColors struct {
			Colors []dominantColor `json:"colors"`
		} `json:"dominantColors"`
	}

	dominantColor struct {
		Color struct {
			Red   int `json:"red"`
			Green int `json:"green"`
			Blue  int `json:"blue"`
		} `json:"color"`
		Score         float64 `json:"score"`
		PixelFraction float64 `json:"pixelFraction"`
	}

	backendError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

type (
	EmptyImageError        struct{}
	UnsupportedFormatError struct{}
	OversizeImageError     struct {
		Size  int64
		Limit int64
	}
	FailedRequestError struct {
		httpCode    int
		backendCode int
		message     string
	}
	TransportError      struct{ cause error }
	UnknownRequestError struct{ reason string }
)

func (err *EmptyImageError) Error() string        { return "image is empty" }
func (err *UnsupportedFormatError) Error() string { return "image format is not supported by backend" }
func (err *OversizeImageError) Error() string {
	return fmt.Sprintf("image size %d exceeds backend ceiling of %d bytes", err.Size, err.Limit)
}
func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("vision request failure (HTTP %d): %s", err.httpCode, err.message)
}
func (err *TransportError) Error() string {
	return fmt.Sprintf("vision backend unreachable: %s", err.cause.Error())
}
func (err *TransportError) Unwrap() error { return err.cause }
func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error while communicating with vision backend: %s", err.reason)
}

// Transient marks rate-limit and server-class failures as retryable
// for the retry policy wrapper.
func (err *FailedRequestError) Transient() bool {
	return err.httpCode == http.StatusTooManyRequests || err.httpCode >= http.StatusInternalServerError
}

func (err *TransportError) Transient() bool { return true }
