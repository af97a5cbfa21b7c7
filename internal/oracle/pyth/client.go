package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/bits"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// Client fetches price updates from a Pyth Hermes endpoint and validates
// them before handing them to settlement. It fails closed: a stale or
// wide-confidence update is an error, never a price.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	maxStaleness     time.Duration
	maxConfidenceBps uint64
	now              func() time.Time
}

// NewClient creates a Hermes client.
//
// baseURL is the Hermes API root, e.g. "https://hermes.pyth.network".
func NewClient(baseURL string, maxStaleness time.Duration, maxConfidenceBps uint64) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxStaleness:     maxStaleness,
		maxConfidenceBps: maxConfidenceBps,
		now:              time.Now,
	}
}

// hermesResponse mirrors GET /v2/updates/price/latest with parsed=true.
type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// GetPrice fetches the latest update for one feed, normalizes it to the
// engine's 6-decimal fixed point, and applies the staleness and confidence
// gates.
func (c *Client) GetPrice(ctx context.Context, feedID string) (domain.PriceSnapshot, error) {
	q := url.Values{}
	q.Add("ids[]", feedID)
	q.Set("parsed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: fetch %q: %w", feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: hermes status %d for %q: %w",
			resp.StatusCode, feedID, domain.ErrPriceUnavailable)
	}

	var hr hermesResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: decode response: %w", err)
	}
	if len(hr.Parsed) == 0 {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: no update for %q: %w",
			feedID, domain.ErrPriceUnavailable)
	}

	update := hr.Parsed[0].Price
	price, err := normalize(update.Price, update.Expo)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: normalize price for %q: %w", feedID, err)
	}
	conf, err := normalize(update.Conf, update.Expo)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: normalize confidence for %q: %w", feedID, err)
	}
	if price == 0 {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: zero price for %q: %w",
			feedID, domain.ErrPriceUnavailable)
	}

	snap := domain.PriceSnapshot{
		FeedID:      feedID,
		Price:       price,
		Confidence:  conf,
		PublishedAt: time.Unix(update.PublishTime, 0).UTC(),
	}
	if age := snap.Age(c.now()); age > c.maxStaleness {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: update for %q is %s old: %w",
			feedID, age.Truncate(time.Millisecond), domain.ErrStalePrice)
	}
	if bps := snap.ConfidenceBps(); bps > c.maxConfidenceBps {
		return domain.PriceSnapshot{}, fmt.Errorf("oracle/pyth: confidence %d bps for %q exceeds %d: %w",
			bps, feedID, c.maxConfidenceBps, domain.ErrConfidenceTooWide)
	}
	return snap, nil
}

// normalize rescales a raw Pyth value of the given exponent to the engine's
// 6-decimal fixed point, with checked arithmetic in both directions.
func normalize(raw string, expo int32) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}

	shift := expo + 6
	switch {
	case shift == 0:
		return v, nil
	case shift > 0:
		scale, err := pow10(shift)
		if err != nil {
			return 0, err
		}
		hi, lo := bits.Mul64(v, scale)
		if hi != 0 {
			return 0, domain.ErrOverflow
		}
		return lo, nil
	default:
		scale, err := pow10(-shift)
		if err != nil {
			return 0, err
		}
		return v / scale, nil
	}
}

func pow10(n int32) (uint64, error) {
	if n > 19 {
		return 0, domain.ErrOverflow
	}
	out := uint64(1)
	for i := int32(0); i < n; i++ {
		out *= 10
	}
	return out, nil
}
