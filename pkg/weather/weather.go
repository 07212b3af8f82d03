// Package weather fetches current conditions from wttr.in with an Open-Meteo fallback.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/upstream"
	"github.com/rs/zerolog"
)

const (
	SourceWttr      = "wttr.in"
	SourceOpenMeteo = "open-meteo"

	DefaultWttrURL      = "https://wttr.in"
	DefaultOpenMeteoURL = "https://api.open-meteo.com"
)

// ErrInvalidPayload is returned when a provider answers without current conditions
var ErrInvalidPayload = errors.New("invalid weather data format")

// Report is the current conditions for one city
type Report struct {
	Temp       string `json:"temp"`
	TempF      string `json:"tempF"`
	Condition  string `json:"condition"`
	FeelsLike  string `json:"feels_like"`
	FeelsLikeF string `json:"feels_likeF"`
	Humidity   string `json:"humidity"`
	WindSpeed  string `json:"windSpeed"`
	City       string `json:"city"`
	Source     string `json:"source"`
}

// Degraded is the body served when every provider failed
type Degraded struct {
	Error     string `json:"error"`
	Temp      string `json:"temp"`
	Condition string `json:"condition"`
	FeelsLike string `json:"feels_like"`
}

// Unavailable returns the degraded body
func Unavailable() Degraded {
	return Degraded{
		Error:     "Failed to fetch weather",
		Temp:      "--",
		Condition: "Unavailable",
		FeelsLike: "--",
	}
}

// Options configures a Client
type Options struct {
	City         string
	Latitude     float64
	Longitude    float64
	WttrURL      string
	OpenMeteoURL string
	Timeout      time.Duration
	Metrics      *metrics.Metrics
}

// Client queries the weather providers
type Client struct {
	opts      Options
	wttr      *upstream.Client
	openMeteo *upstream.Client
	logger    zerolog.Logger
}

// NewClient creates a weather client
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.City == "" {
		opts.City = "Gold Coast"
	}
	if opts.WttrURL == "" {
		opts.WttrURL = DefaultWttrURL
	}
	if opts.OpenMeteoURL == "" {
		opts.OpenMeteoURL = DefaultOpenMeteoURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Client{
		opts:      opts,
		wttr:      upstream.NewClient("wttr", opts.Timeout, nil, opts.Metrics),
		openMeteo: upstream.NewClient("open-meteo", opts.Timeout, nil, opts.Metrics),
		logger:    logger.With().Str("component", "weather").Logger(),
	}
}

// DefaultCity returns the city used when none is requested
func (c *Client) DefaultCity() string {
	return c.opts.City
}

// Current returns conditions for city, or the default city when empty.
// Open-Meteo is only consulted for the default city since it is queried by coordinates.
func (c *Client) Current(ctx context.Context, city string) (Report, error) {
	city = normalizeCity(city)
	if city == "" {
		city = c.opts.City
	}

	report, err := c.fromWttr(ctx, city)
	if err == nil {
		return report, nil
	}
	c.logger.Warn().Err(err).Str("city", city).Msg("wttr.in failed")

	if !strings.EqualFold(city, c.opts.City) {
		return Report{}, err
	}

	report, fallbackErr := c.fromOpenMeteo(ctx, city)
	if fallbackErr != nil {
		c.logger.Error().Err(fallbackErr).Msg("open-meteo fallback failed")
		return Report{}, errors.Join(err, fallbackErr)
	}
	return report, nil
}

// normalizeCity turns the URL-style "Gold+Coast" into "Gold Coast"
func normalizeCity(city string) string {
	return strings.TrimSpace(strings.ReplaceAll(city, "+", " "))
}

type wttrResponse struct {
	CurrentCondition []struct {
		TempC         string `json:"temp_C"`
		TempF         string `json:"temp_F"`
		FeelsLikeC    string `json:"FeelsLikeC"`
		FeelsLikeF    string `json:"FeelsLikeF"`
		Humidity      string `json:"humidity"`
		WindspeedKmph string `json:"windspeedKmph"`
		WeatherDesc   []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

func (c *Client) fromWttr(ctx context.Context, city string) (Report, error) {
	endpoint := fmt.Sprintf("%s/%s?format=j1", strings.TrimRight(c.opts.WttrURL, "/"), url.PathEscape(city))

	var resp wttrResponse
	if err := c.wttr.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return Report{}, err
	}
	if len(resp.CurrentCondition) == 0 || len(resp.CurrentCondition[0].WeatherDesc) == 0 {
		return Report{}, ErrInvalidPayload
	}

	cur := resp.CurrentCondition[0]
	return Report{
		Temp:       cur.TempC,
		TempF:      cur.TempF,
		Condition:  strings.TrimSpace(cur.WeatherDesc[0].Value),
		FeelsLike:  cur.FeelsLikeC,
		FeelsLikeF: cur.FeelsLikeF,
		Humidity:   cur.Humidity,
		WindSpeed:  cur.WindspeedKmph,
		City:       city,
		Source:     SourceWttr,
	}, nil
}

type openMeteoResponse struct {
	Current *struct {
		Temperature float64 `json:"temperature_2m"`
		Apparent    float64 `json:"apparent_temperature"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

func (c *Client) fromOpenMeteo(ctx context.Context, city string) (Report, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.opts.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.opts.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,weather_code")
	endpoint := strings.TrimRight(c.opts.OpenMeteoURL, "/") + "/v1/forecast?" + q.Encode()

	var resp openMeteoResponse
	if err := c.openMeteo.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return Report{}, err
	}
	if resp.Current == nil {
		return Report{}, ErrInvalidPayload
	}

	cur := resp.Current
	return Report{
		Temp:       formatInt(cur.Temperature),
		TempF:      formatInt(celsiusToFahrenheit(cur.Temperature)),
		Condition:  Describe(cur.WeatherCode),
		FeelsLike:  formatInt(cur.Apparent),
		FeelsLikeF: formatInt(celsiusToFahrenheit(cur.Apparent)),
		Humidity:   formatInt(cur.Humidity),
		WindSpeed:  formatInt(cur.WindSpeed),
		City:       city,
		Source:     SourceOpenMeteo,
	}, nil
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

func formatInt(v float64) string {
	return strconv.Itoa(int(math.Round(v)))
}
