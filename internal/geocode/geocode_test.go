package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
	m.Run()
}

const reverseFixture = `{
	"results": [{
		"formatted_address": "20 W 34th St, New York, NY 10001, USA",
		"address_components": [
			{"long_name": "20", "short_name": "20", "types": ["street_number"]},
			{"long_name": "West 34th Street", "short_name": "W 34th St", "types": ["route"]},
			{"long_name": "Empire State Building", "short_name": "ESB", "types": ["premise"]},
			{"long_name": "Midtown South", "short_name": "Midtown South", "types": ["neighborhood", "political"]},
			{"long_name": "New York", "short_name": "New York", "types": ["locality", "political"]},
			{"long_name": "New York", "short_name": "NY", "types": ["administrative_area_level_1", "political"]},
			{"long_name": "United States", "short_name": "US", "types": ["country", "political"]}
		]
	}]
}`

func newBackend(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, APIKey: "secret"}, retry.Policy{MaxAttempts: 2})
}

func Test_ReverseGeocode_FoldsComponentsIntoPlace(t *testing.T) {
	t.Parallel()

	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "40.748400", r.URL.Query().Get("lat"))
		assert.Equal(t, "-73.985700", r.URL.Query().Get("lon"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(reverseFixture))
	})

	place, err := client.ReverseGeocode(context.Background(), 40.7484, -73.9857)

	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, "20 W 34th St, New York, NY 10001, USA", place.FormattedAddress)
	assert.Equal(t, "20 West 34th Street", place.Venue, "street number plus route beats the premise name")
	assert.Equal(t, "Midtown South", place.Neighborhood)
	assert.Equal(t, "New York", place.City)
	assert.Equal(t, "New York", place.Region)
	assert.Equal(t, "United States", place.Country)
}

func Test_ReverseGeocode_PremiseVenueWhenNoStreetAddress(t *testing.T) {
	t.Parallel()

	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"results": [{
				"formatted_address": "Central Park, New York, NY, USA",
				"address_components": [
					{"long_name": "Central Park", "short_name": "Central Park", "types": ["establishment", "point_of_interest"]},
					{"long_name": "New York", "short_name": "New York", "types": ["locality"]}
				]
			}]
		}`))
	})

	place, err := client.ReverseGeocode(context.Background(), 40.7829, -73.9654)

	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, "Central Park", place.Venue)
	assert.Empty(t, place.Neighborhood)
}

func Test_ReverseGeocode_FailuresYieldNilPlaceNotError(t *testing.T) {
	t.Parallel()

	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	place, err := client.ReverseGeocode(context.Background(), 1, 1)
	assert.NoError(t, err, "geocoding is best-effort; failures must not block the pipeline")
	assert.Nil(t, place)
}

func Test_ReverseGeocode_EmptyResultsYieldNilPlace(t *testing.T) {
	t.Parallel()

	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	})

	place, err := client.ReverseGeocode(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Nil(t, place)
}

func Test_ReverseGeocode_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	calls := int32(0)
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(reverseFixture))
	})

	place, err := client.ReverseGeocode(context.Background(), 40.7484, -73.9857)

	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
