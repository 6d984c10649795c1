// Package weather looks up current conditions and forecasts from
// OpenWeatherMap, with a sqlite cache and seasonal mock data when the API is
// unavailable.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kidsclubplans/kcp/internal/config"
)

const (
	DefaultLocation = "Lansing, MI"
	defaultLat      = 42.7325
	defaultLon      = -84.5555
	defaultBaseURL  = "https://api.openweathermap.org/data/2.5"
	defaultCacheTTL = 30 * time.Minute
	requestTimeout  = 10 * time.Second
	dateLayout      = "2006-01-02"
)

// Snapshot is the weather for one location and date.
type Snapshot struct {
	Location            string    `json:"location"`
	Date                string    `json:"date"`
	TemperatureF        *float64  `json:"temperature_f"`
	TemperatureC        *float64  `json:"temperature_c"`
	Conditions          string    `json:"conditions"`
	Description         string    `json:"description"`
	PrecipitationChance int       `json:"precipitation_chance"`
	Humidity            *int      `json:"humidity"`
	WindSpeed           *float64  `json:"wind_speed"`
	OutdoorSuitable     bool      `json:"outdoor_suitable"`
	UVIndex             *float64  `json:"uv_index"`
	CachedAt            time.Time `json:"cached_at"`
	Source              string    `json:"source,omitempty"`
}

// Cache stores serialized snapshots.
type Cache interface {
	GetCachedWeather(ctx context.Context, location, date string, ttl time.Duration) ([]byte, bool, error)
	SetCachedWeather(ctx context.Context, location, date string, payload []byte) error
}

// Checker returns the weather for a location and date.
type Checker interface {
	Check(ctx context.Context, location, date string) (*Snapshot, error)
}

// Client is an OpenWeatherMap client.
type Client struct {
	apiKey          string
	baseURL         string
	defaultLocation string
	ttl             time.Duration
	httpClient      *http.Client
	cache           Cache
	now             func() time.Time
}

// NewClient creates a client from config. cache may be nil.
func NewClient(cfg config.WeatherConfig, cache Cache) *Client {
	c := &Client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		defaultLocation: cfg.DefaultLocation,
		ttl:             cfg.CacheTTL,
		httpClient:      &http.Client{Timeout: requestTimeout},
		cache:           cache,
		now:             time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.defaultLocation == "" {
		c.defaultLocation = DefaultLocation
	}
	if c.ttl <= 0 {
		c.ttl = defaultCacheTTL
	}
	if c.apiKey == "" {
		slog.Warn("no OpenWeather API key configured, using mock weather")
	}
	return c
}

// Check returns weather for location on date (YYYY-MM-DD, default today).
// API failures fall back to mock data; only a malformed date is an error.
func (c *Client) Check(ctx context.Context, location, date string) (*Snapshot, error) {
	now := c.now()
	if date == "" {
		date = now.Format(dateLayout)
	}
	target, err := time.ParseInLocation(dateLayout, date, now.Location())
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = c.defaultLocation
	}

	if snap := c.fromCache(ctx, location, date); snap != nil {
		return snap, nil
	}

	lat, lon := Geocode(location)
	obs, err := c.fetch(ctx, lat, lon, daysAhead(now, target))
	source := "api"
	if err != nil {
		if c.apiKey != "" {
			slog.Error("weather API request failed", "location", location, "date", date, "error", err)
		}
		obs = mockObservation(target)
		source = "mock"
	}

	snap := obs.snapshot(location, date, now)
	snap.Source = source
	c.toCache(ctx, snap)
	return snap, nil
}

func (c *Client) fromCache(ctx context.Context, location, date string) *Snapshot {
	if c.cache == nil {
		return nil
	}
	payload, ok, err := c.cache.GetCachedWeather(ctx, location, date, c.ttl)
	if err != nil {
		slog.Warn("weather cache read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		slog.Warn("weather cache entry unreadable", "location", location, "date", date, "error", err)
		return nil
	}
	slog.Debug("weather cache hit", "location", location, "date", date)
	snap.Source = "cache"
	return &snap
}

func (c *Client) toCache(ctx context.Context, snap *Snapshot) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.cache.SetCachedWeather(ctx, snap.Location, snap.Date, payload); err != nil {
		slog.Warn("weather cache write failed", "error", err)
	}
}

func daysAhead(now, target time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(math.Round(target.Sub(today).Hours() / 24))
}

type observation struct {
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Pop *float64 `json:"pop"`
	UVI *float64 `json:"uvi"`
}

type forecast struct {
	List []observation `json:"list"`
}

// fetch calls /weather for today (and past dates) and /forecast for future
// dates, picking the 3-hour slot days*8, capped at day 5.
func (c *Client) fetch(ctx context.Context, lat, lon float64, days int) (*observation, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("no api key")
	}
	if days < 0 {
		slog.Warn("requested past date, using current weather as approximation")
		days = 0
	}
	endpoint := "/weather"
	if days > 0 {
		endpoint = "/forecast"
		if days > 5 {
			slog.Warn("forecast only available for 5 days, using day 5")
			days = 5
		}
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "imperial")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openweathermap returned %s", resp.Status)
	}

	if days == 0 {
		var obs observation
		if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
			return nil, fmt.Errorf("decode weather: %w", err)
		}
		return &obs, nil
	}

	var fc forecast
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	if len(fc.List) == 0 {
		return nil, fmt.Errorf("forecast has no entries")
	}
	idx := min(days*8, len(fc.List)-1)
	return &fc.List[idx], nil
}

func (o *observation) condition() (string, string) {
	if len(o.Weather) == 0 {
		return "Unknown", ""
	}
	return o.Weather[0].Main, o.Weather[0].Description
}

func (o *observation) snapshot(location, date string, now time.Time) *Snapshot {
	condition, description := o.condition()
	lower := strings.ToLower(condition)

	precip := 10
	switch {
	case o.Pop != nil:
		precip = int(*o.Pop * 100)
	case strings.Contains(lower, "rain"):
		precip = 80
	case strings.Contains(lower, "snow"):
		precip = 70
	}

	snap := &Snapshot{
		Location:            location,
		Date:                date,
		TemperatureF:        o.Main.Temp,
		Conditions:          MapCondition(condition),
		Description:         description,
		PrecipitationChance: precip,
		Humidity:            o.Main.Humidity,
		WindSpeed:           &o.Wind.Speed,
		OutdoorSuitable:     o.outdoorSuitable(),
		UVIndex:             o.UVI,
		CachedAt:            now,
	}
	if o.Main.Temp != nil {
		c := math.Round((*o.Main.Temp-32)*5/9*10) / 10
		snap.TemperatureC = &c
	}
	return snap
}

// outdoorSuitable is false in rain, snow, thunderstorms or drizzle, below
// 20°F or above 95°F, and in wind above 25 mph.
func (o *observation) outdoorSuitable() bool {
	condition, _ := o.condition()
	condition = strings.ToLower(condition)
	for _, bad := range []string{"rain", "snow", "thunderstorm", "drizzle"} {
		if strings.Contains(condition, bad) {
			return false
		}
	}
	temp := 70.0
	if o.Main.Temp != nil {
		temp = *o.Main.Temp
	}
	if temp < 20 || temp > 95 {
		return false
	}
	return o.Wind.Speed <= 25
}

// MapCondition maps an OpenWeatherMap condition onto
// rain/snow/storm/cloudy/sunny/foggy.
func MapCondition(condition string) string {
	c := strings.ToLower(condition)
	switch {
	case strings.Contains(c, "rain") || strings.Contains(c, "drizzle"):
		return "rain"
	case strings.Contains(c, "snow"):
		return "snow"
	case strings.Contains(c, "thunder") || strings.Contains(c, "storm"):
		return "storm"
	case strings.Contains(c, "cloud"):
		return "cloudy"
	case strings.Contains(c, "clear") || strings.Contains(c, "sun"):
		return "sunny"
	case strings.Contains(c, "fog") || strings.Contains(c, "mist"):
		return "foggy"
	default:
		return "cloudy"
	}
}

var knownPlaces = []struct {
	name     string
	lat, lon float64
}{
	{"east lansing", 42.7360, -84.4839},
	{"lansing", 42.7325, -84.5555},
	{"detroit", 42.3314, -83.0458},
	{"grand rapids", 42.9634, -85.6681},
	{"ann arbor", 42.2808, -83.7430},
	{"okemos", 42.7223, -84.4275},
}

// Geocode resolves a location from a fixed table of Michigan cities,
// defaulting to Lansing.
func Geocode(location string) (lat, lon float64) {
	lower := strings.ToLower(location)
	for _, p := range knownPlaces {
		if strings.Contains(lower, p.name) {
			return p.lat, p.lon
		}
	}
	return defaultLat, defaultLon
}

// mockObservation approximates Michigan seasons from the day of year.
func mockObservation(date time.Time) *observation {
	day := date.YearDay()
	var temp float64
	var condition string
	switch {
	case day < 80 || day > 330:
		temp = float64(25 + day%15)
		condition = "cloudy"
		if day%5 == 0 {
			condition = "snow"
		}
	case day < 170:
		temp = float64(55 + day%20)
		condition = "cloudy"
		if day%4 == 0 {
			condition = "rain"
		}
	case day < 260:
		temp = float64(75 + day%20)
		condition = "sunny"
		if day%3 == 0 {
			condition = "cloudy"
		}
	default:
		temp = float64(60 + day%15)
		condition = "cloudy"
	}

	humidity := 50 + day%30
	o := &observation{}
	o.Main.Temp = &temp
	o.Main.Humidity = &humidity
	o.Weather = []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	}{{Main: condition, Description: condition}}
	o.Wind.Speed = float64(5 + day%10)
	return o
}
