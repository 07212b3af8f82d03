// Package stripe derives revenue widgets from the Stripe API.
package stripe

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/upstream"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.stripe.com"

	pageLimit       = 100
	maxPages        = 10
	recentLimit     = 10
	defaultCurrency = "usd"
)

// zeroDecimal lists the currencies Stripe charges in whole units
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ErrNoKey is returned when no secret key is configured
var ErrNoKey = errors.New("STRIPE_SECRET_KEY environment variable not set")

// MRR is monthly recurring revenue in major currency units
type MRR struct {
	MRR                 float64            `json:"mrr"`
	Currency            string             `json:"currency"`
	ActiveSubscriptions int                `json:"activeSubscriptions"`
	ByCurrency          map[string]float64 `json:"byCurrency,omitempty"`
}

// Customer is a recent customer card
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

// Customers is the customer count and the most recent signups
type Customers struct {
	Total  int        `json:"total"`
	Recent []Customer `json:"recent"`
}

// Options configures a Client
type Options struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// Client reads subscriptions and customers
type Client struct {
	key     string
	baseURL string
	http    *upstream.Client
	logger  zerolog.Logger
}

// NewClient creates a Stripe client
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		key:     opts.SecretKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    upstream.NewClient("stripe", opts.Timeout, nil, opts.Metrics),
		logger:  logger.With().Str("component", "stripe").Logger(),
	}
}

// Configured reports whether a secret key is set
func (c *Client) Configured() bool {
	return c.key != ""
}

type listPage[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type apiSubscription struct {
	ID    string `json:"id"`
	Items struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
				Recurring  *struct {
					Interval      string `json:"interval"`
					IntervalCount int64  `json:"interval_count"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type apiCustomer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

// list walks up to maxPages pages of a list endpoint, calling each with the decoded page
func list[T any](ctx context.Context, c *Client, path string, params url.Values, id func(T) string, each func([]T)) error {
	if c.key == "" {
		return ErrNoKey
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.key)

	params.Set("limit", strconv.Itoa(pageLimit))
	for page := 0; page < maxPages; page++ {
		var p listPage[T]
		if err := c.http.GetJSON(ctx, c.baseURL+path+"?"+params.Encode(), header, &p); err != nil {
			c.logger.Error().Err(err).Str("path", path).Msg("Stripe request failed")
			return err
		}
		each(p.Data)
		if !p.HasMore || len(p.Data) == 0 {
			return nil
		}
		params.Set("starting_after", id(p.Data[len(p.Data)-1]))
	}
	c.logger.Warn().Str("path", path).Int("pages", maxPages).Msg("Stripe list truncated")
	return nil
}

// MRR sums active subscriptions normalised to a monthly amount.
// The reported currency is the one carrying the most revenue.
func (c *Client) MRR(ctx context.Context) (MRR, error) {
	params := url.Values{}
	params.Set("status", "active")

	byCurrency := map[string]float64{}
	active := 0
	err := list(ctx, c, "/v1/subscriptions", params,
		func(s apiSubscription) string { return s.ID },
		func(subs []apiSubscription) {
			for _, s := range subs {
				active++
				for _, item := range s.Items.Data {
					if item.Price.Recurring == nil {
						continue
					}
					qty := item.Quantity
					if qty == 0 {
						qty = 1
					}
					monthly := Monthly(item.Price.UnitAmount*qty, item.Price.Recurring.Interval, item.Price.Recurring.IntervalCount)
					byCurrency[strings.ToLower(item.Price.Currency)] += monthly
				}
			}
		})
	if err != nil {
		return MRR{}, err
	}

	result := MRR{Currency: defaultCurrency, ActiveSubscriptions: active}
	currencies := make([]string, 0, len(byCurrency))
	for cur := range byCurrency {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	for _, cur := range currencies {
		amount := round2(MajorUnits(byCurrency[cur], cur))
		byCurrency[cur] = amount
		if amount > result.MRR {
			result.MRR = amount
			result.Currency = cur
		}
	}
	if len(byCurrency) > 1 {
		result.ByCurrency = byCurrency
	}
	return result, nil
}

// Customers counts customers across pages and returns the 10 newest
func (c *Client) Customers(ctx context.Context) (Customers, error) {
	result := Customers{Recent: []Customer{}}
	err := list(ctx, c, "/v1/customers", url.Values{},
		func(cu apiCustomer) string { return cu.ID },
		func(page []apiCustomer) {
			result.Total += len(page)
			for _, cu := range page {
				if len(result.Recent) == recentLimit {
					break
				}
				result.Recent = append(result.Recent, Customer(cu))
			}
		})
	if err != nil {
		return Customers{}, err
	}
	return result, nil
}

// Monthly converts an amount billed every count intervals to a monthly amount
func Monthly(amount int64, interval string, count int64) float64 {
	if count <= 0 {
		count = 1
	}
	a := float64(amount) / float64(count)
	switch interval {
	case "year":
		return a / 12
	case "week":
		return a * 52 / 12
	case "day":
		return a * 365 / 12
	default:
		return a
	}
}

// MajorUnits converts a Stripe minor-unit amount in currency to major units
func MajorUnits(amount float64, currency string) float64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount
	}
	return amount / 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
