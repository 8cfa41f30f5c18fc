// Package bookingapi is the HTTP client for the external booking service that
// owns weekly patterns, booking requests and offers.
package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tutorslots/internal/domain"
	"tutorslots/internal/metrics"
)

const cachePrefix = "bookingapi:"

// Client calls the booking service JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger

	limiter *rate.Limiter

	redis    redis.Cmdable
	cacheTTL time.Duration
}

// NewClient constructs a client. A non-positive timeout defaults to 10s.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// UseRedisCache configures optional Redis caching for GET endpoints.
func (c *Client) UseRedisCache(redisClient redis.Cmdable, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseRateLimit caps outbound calls at rps with the given burst.
func (c *Client) UseRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// FetchWeeklyPatterns returns every weekly pattern of a tutor.
func (c *Client) FetchWeeklyPatterns(ctx context.Context, tutorID int64) ([]domain.WeeklyPattern, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tutors/%d/weekly-patterns", c.baseURL, tutorID)
	cacheKey := fmt.Sprintf("patterns:%d", tutorID)
	var wrap struct {
		Patterns []domain.WeeklyPattern `json:"patterns"`
	}

	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Patterns, nil
	}
	if err := c.doJSON(ctx, "patterns.list", http.MethodGet, endpoint, nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Patterns, nil
}

// WriteWeeklyPattern stores the full slot set for req.AppliedFrom.
func (c *Client) WriteWeeklyPattern(ctx context.Context, req domain.PatternWrite) (*domain.WeeklyPattern, error) {
	endpoint := fmt.Sprintf("%s/api/v1/weekly-patterns", c.baseURL)
	var resp domain.WeeklyPattern
	if err := c.doJSON(ctx, "patterns.write", http.MethodPut, endpoint, req, &resp); err != nil {
		return nil, err
	}
	c.dropCache(ctx, fmt.Sprintf("patterns:%d", resp.TutorID))
	return &resp, nil
}

// DeleteWeeklyPattern removes a pattern.
func (c *Client) DeleteWeeklyPattern(ctx context.Context, patternID int64) error {
	endpoint := fmt.Sprintf("%s/api/v1/weekly-patterns/%d", c.baseURL, patternID)
	if err := c.doJSON(ctx, "patterns.delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	// The owning tutor is not known here.
	c.dropCachePrefix(ctx, "patterns:")
	return nil
}

// FetchLearnerBookingRequests lists booking requests, optionally for one tutor.
func (c *Client) FetchLearnerBookingRequests(ctx context.Context, tutorID *int64) ([]domain.BookingRequest, error) {
	endpoint := fmt.Sprintf("%s/api/v1/booking-requests", c.baseURL)
	cacheKey := "requests:all"
	if tutorID != nil {
		endpoint += "?tutorId=" + strconv.FormatInt(*tutorID, 10)
		cacheKey = fmt.Sprintf("requests:%d", *tutorID)
	}
	var wrap struct {
		Requests []domain.BookingRequest `json:"requests"`
	}

	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Requests, nil
	}
	if err := c.doJSON(ctx, "requests.list", http.MethodGet, endpoint, nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Requests, nil
}

// FetchOfferDetail returns one offer.
func (c *Client) FetchOfferDetail(ctx context.Context, offerID int64) (*domain.Offer, error) {
	endpoint := fmt.Sprintf("%s/api/v1/offers/%d", c.baseURL, offerID)
	cacheKey := fmt.Sprintf("offer:%d", offerID)
	var resp domain.Offer

	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.doJSON(ctx, "offers.get", http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

// CreateOffer creates a new offer.
func (c *Client) CreateOffer(ctx context.Context, req domain.OfferCreate) (*domain.Offer, error) {
	endpoint := fmt.Sprintf("%s/api/v1/offers", c.baseURL)
	var resp domain.Offer
	if err := c.doJSON(ctx, "offers.create", http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateOffer replaces lesson and slots of an offer.
func (c *Client) UpdateOffer(ctx context.Context, offerID int64, req domain.OfferUpdate) (*domain.Offer, error) {
	endpoint := fmt.Sprintf("%s/api/v1/offers/%d", c.baseURL, offerID)
	var resp domain.Offer
	if err := c.doJSON(ctx, "offers.update", http.MethodPut, endpoint, req, &resp); err != nil {
		return nil, err
	}
	c.dropCache(ctx, fmt.Sprintf("offer:%d", offerID))
	return &resp, nil
}

// FindExistingOfferID returns the id of the learner's open offer, or nil.
func (c *Client) FindExistingOfferID(ctx context.Context, learnerID int64) (*int64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/offers?learnerId=%s", c.baseURL, url.QueryEscape(strconv.FormatInt(learnerID, 10)))
	var wrap struct {
		Offers []struct {
			ID int64 `json:"id"`
		} `json:"offers"`
	}
	err := c.doJSON(ctx, "offers.find", http.MethodGet, endpoint, nil, &wrap)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(wrap.Offers) == 0 {
		return nil, nil
	}
	id := wrap.Offers[0].ID
	return &id, nil
}

// HealthCheck checks if the booking service is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/healthz", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, cachePrefix+key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cachePrefix+key, data, c.cacheTTL).Err()
}

func (c *Client) dropCache(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cachePrefix+key).Err()
}

func (c *Client) dropCachePrefix(ctx context.Context, prefix string) {
	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, cachePrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		_ = c.redis.Del(ctx, iter.Val()).Err()
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("cache invalidation failed")
	}
}

func (c *Client) doJSON(ctx context.Context, name, method, endpoint string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)
	return c.do(name, req, out)
}

func (c *Client) do(name string, req *http.Request, out any) error {
	started := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			metrics.ObserveAPI(name, "rate_limited", started)
			return domain.Transport("booking service unavailable", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveAPI(name, "error", started)
		c.logger.Warn().Err(err).Str("endpoint", name).Msg("booking api call failed")
		return domain.Transport("booking service unavailable", err)
	}
	defer resp.Body.Close()
	metrics.ObserveAPI(name, strconv.Itoa(resp.StatusCode), started)

	if resp.StatusCode >= 300 {
		return c.statusError(name, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Transport("unexpected response from booking service", err)
	}
	return nil
}

// statusError maps a non-2xx response onto a domain error kind, keeping the
// server's message for the user.
func (c *Client) statusError(name string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug().Str("endpoint", name).Int("status", resp.StatusCode).Str("message", msg).Msg("booking api rejected request")

	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.NotFound("%s", msg)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.Conflict(msg)
	default:
		return domain.Transport(msg, fmt.Errorf("http %d", resp.StatusCode))
	}
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
}
