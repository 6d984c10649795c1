package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kidsclubplans/kcp/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
}

func (m *memCache) GetCachedWeather(_ context.Context, location, date string, _ time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.entries[location+"|"+date]
	return p, ok, nil
}

func (m *memCache) SetCachedWeather(_ context.Context, location, date string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string][]byte{}
	}
	m.entries[location+"|"+date] = payload
	return nil
}

var fixedNow = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc, cache Cache) *Client {
	t.Helper()
	cfg := config.WeatherConfig{APIKey: "test-key", CacheTTL: time.Minute}
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		cfg.BaseURL = srv.URL
	} else {
		cfg.APIKey = ""
	}
	c := NewClient(cfg, cache)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCheckCurrentWeather(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"main":{"temp":77,"humidity":40},"weather":[{"main":"Clear","description":"clear sky"}],"wind":{"speed":6}}`))
	}, nil)

	snap, err := c.Check(context.Background(), "Detroit, MI", "")
	require.NoError(t, err)
	assert.Equal(t, "/weather", gotPath)
	assert.Contains(t, gotQuery, "lat=42.3314")
	assert.Contains(t, gotQuery, "units=imperial")
	assert.Equal(t, "2026-06-10", snap.Date)
	assert.Equal(t, "sunny", snap.Conditions)
	assert.Equal(t, "clear sky", snap.Description)
	assert.Equal(t, 10, snap.PrecipitationChance)
	require.NotNil(t, snap.TemperatureC)
	assert.Equal(t, 25.0, *snap.TemperatureC)
	assert.True(t, snap.OutdoorSuitable)
	assert.Equal(t, "api", snap.Source)
}

func TestCheckForecastPicksDaySlot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		// 17 entries: index 16 is day 2
		body := `{"list":[`
		for i := 0; i < 17; i++ {
			if i > 0 {
				body += ","
			}
			cond := "Clouds"
			if i == 16 {
				cond = "Rain"
			}
			body += `{"main":{"temp":60},"weather":[{"main":"` + cond + `","description":"x"}],"wind":{"speed":3},"pop":0.65}`
		}
		body += `]}`
		_, _ = w.Write([]byte(body))
	}, nil)

	snap, err := c.Check(context.Background(), "Lansing", "2026-06-12")
	require.NoError(t, err)
	assert.Equal(t, "rain", snap.Conditions)
	assert.Equal(t, 65, snap.PrecipitationChance)
	assert.False(t, snap.OutdoorSuitable)
}

func TestCheckFallsBackToMockAndCaches(t *testing.T) {
	cache := &memCache{}
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}, cache)

	snap, err := c.Check(context.Background(), "  ", "2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, DefaultLocation, snap.Location)
	assert.Equal(t, "mock", snap.Source)
	// day 15: winter, 25+0, day%5==0 → snow
	require.NotNil(t, snap.TemperatureF)
	assert.Equal(t, 25.0, *snap.TemperatureF)
	assert.Equal(t, "snow", snap.Conditions)
	assert.Equal(t, 70, snap.PrecipitationChance)
	assert.False(t, snap.OutdoorSuitable)

	again, err := c.Check(context.Background(), DefaultLocation, "2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, "cache", again.Source)
	assert.Equal(t, 1, calls)
}

func TestCheckWithoutAPIKeyUsesMock(t *testing.T) {
	c := newTestClient(t, nil, nil)
	snap, err := c.Check(context.Background(), "Okemos", "2026-07-04")
	require.NoError(t, err)
	assert.Equal(t, "mock", snap.Source)
	assert.Equal(t, "Okemos", snap.Location)
}

func TestCheckRejectsBadDate(t *testing.T) {
	c := newTestClient(t, nil, nil)
	_, err := c.Check(context.Background(), "", "next tuesday")
	require.Error(t, err)
}

func TestGeocode(t *testing.T) {
	lat, lon := Geocode("East Lansing, MI")
	assert.Equal(t, 42.7360, lat)
	assert.Equal(t, -84.4839, lon)

	lat, _ = Geocode("Grand Rapids")
	assert.Equal(t, 42.9634, lat)

	lat, lon = Geocode("Somewhere, Michigan")
	assert.Equal(t, defaultLat, lat)
	assert.Equal(t, defaultLon, lon)
}

func TestMapCondition(t *testing.T) {
	cases := map[string]string{
		"Drizzle":      "rain",
		"Snow":         "snow",
		"Thunderstorm": "storm",
		"Clouds":       "cloudy",
		"Clear":        "sunny",
		"Mist":         "foggy",
		"Haze":         "cloudy",
	}
	for in, want := range cases {
		assert.Equal(t, want, MapCondition(in), in)
	}
}

func TestOutdoorSuitability(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	cases := []struct {
		name string
		cond string
		temp *float64
		wind float64
		want bool
	}{
		{"mild", "Clear", temp(70), 5, true},
		{"cold", "Clear", temp(15), 5, false},
		{"hot", "Clear", temp(96), 5, false},
		{"windy", "Clouds", temp(70), 26, false},
		{"drizzle", "Drizzle", temp(70), 0, false},
		{"no temp", "Clouds", nil, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &observation{}
			o.Main.Temp = tc.temp
			o.Weather = append(o.Weather, struct {
				Main        string `json:"main"`
				Description string `json:"description"`
			}{Main: tc.cond})
			o.Wind.Speed = tc.wind
			assert.Equal(t, tc.want, o.outdoorSuitable())
		})
	}
}
