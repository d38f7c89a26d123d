// Package geocode reverse-geocodes GPS coordinates into place names by
// querying an external geocoding backend and folding its structured
// address components into a Place. Geocoding is a best-effort garnish
// on top of the pipeline: every failure path returns a nil Place
// rather than an error the caller must handle.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/retry"
)

var log = logger.Get("Geocode")

type Config struct {
	BaseURL string `yaml:"base_url" env:"GEOCODE_BASE_URL" validate:"required"`
	APIKey  string `yaml:"api_key" env:"GEOCODE_API_KEY"`
}

// Place is the distilled location enrichment for one coordinate pair.
type Place struct {
	FormattedAddress string
	Venue            string
	Neighborhood     string
	City             string
	Region           string
	Country          string
}

type Client struct {
	config Config
	policy retry.Policy
	http   *http.Client
}

func NewClient(config Config, policy retry.Policy) *Client {
	return &Client{config: config, policy: policy, http: http.DefaultClient}
}

// ReverseGeocode resolves (lat, lon) to a Place. A nil Place with a
// nil error means the lookup failed or returned nothing useful; the
// cause is logged but deliberately not surfaced.
func (client *Client) ReverseGeocode(ctx context.Context, lat float64, lon float64) (*Place, error) {
	var decoded reverseResponse
	err := client.policy.Do(ctx, func() error {
		return client.getReverse(ctx, lat, lon, &decoded)
	})
	if err != nil {
		log.Emit(logger.WARNING, "reverse geocode of (%f, %f) failed: %s\n", lat, lon, err.Error())
		return nil, nil
	}

	if len(decoded.Results) == 0 {
		return nil, nil
	}

	return resultToPlace(&decoded.Results[0]), nil
}

func (client *Client) getReverse(ctx context.Context, lat float64, lon float64, target *reverseResponse) error {
	url := fmt.Sprintf("%s/reverse?lat=%f&lon=%f&key=%s", client.config.BaseURL, lat, lon, client.config.APIKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	response, err := client.http.Do(request)
	if err != nil {
		return &transportError{cause: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK {
		return &failedRequestError{httpCode: response.StatusCode, message: string(body)}
	}

	if err != nil {
		return err
	}

	return json.Unmarshal(body, target)
}

// resultToPlace folds address components into the Place fields using
// explicit component-type precedence. For the venue: a street number
// combined with a route is the strongest signal, then a premise or
// establishment name.
func resultToPlace(result *reverseResult) *Place {
	place := &Place{FormattedAddress: result.FormattedAddress}

	var streetNumber, route, premise, establishment string
	for _, component := range result.AddressComponents {
		for _, componentType := range component.Types {
			switch componentType {
			case "street_number":
				streetNumber = component.LongName
			case "route":
				route = component.LongName
			case "premise":
				premise = component.LongName
			case "establishment", "point_of_interest":
				establishment = component.LongName
			case "neighborhood", "sublocality", "sublocality_level_1":
				if place.Neighborhood == "" {
					place.Neighborhood = component.LongName
				}
			case "locality", "postal_town":
				if place.City == "" {
					place.City = component.LongName
				}
			case "administrative_area_level_1":
				if place.Region == "" {
					place.Region = component.LongName
				}
			case "country":
				if place.Country == "" {
					place.Country = component.LongName
				}
			}
		}
	}

	switch {
	case streetNumber != "" && route != "":
		place.Venue = streetNumber + " " + route
	case premise != "":
		place.Venue = premise
	case establishment != "":
		place.Venue = establishment
	}

	return place
}

type (
	reverseResponse struct {
		Results []reverseResult `json:"results"`
	}

	reverseResult struct {
		FormattedAddress  string             `json:"formatted_address"`
		AddressComponents []addressComponent `json:"address_components"`
	}

	addressComponent struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	}

	failedRequestError struct {
		httpCode int
		message  string
	}

	transportError struct{ cause error }
)

func (err *failedRequestError) Error() string {
	return fmt.Sprintf("geocode request failure (HTTP %d): %s", err.httpCode, err.message)
}

func (err *failedRequestError) Transient() bool {
	return err.httpCode == http.StatusTooManyRequests || err.httpCode >= http.StatusInternalServerError
}

func (err *transportError) Error() string {
	return fmt.Sprintf("geocode backend unreachable: %s", err.cause.Error())
}
func (err *transportError) Unwrap() error   { return err.cause }
func (err *transportError) Transient() bool { return true }
