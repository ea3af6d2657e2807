package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/faulttolerance"
	"bitget-radar/internal/model"
	"bitget-radar/internal/ratelimit"
)

const (
	publicTimeout     = 30 * time.Second
	privilegedTimeout = 60 * time.Second

	// venueSuccessCode is the code the venue returns on success.
	venueSuccessCode = "00000"

	// PublicSentinelKey marks the unconfigured, public-access tier.
	PublicSentinelKey = "PUBLIC_ACCESS"
)

// Credentials is the venue credential triple.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Privileged reports whether the triple unlocks the privileged tier.
func (c Credentials) Privileged() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != "" &&
		c.APIKey != PublicSentinelKey && len(c.APIKey) >= 10
}

// CatalogError is a venue response with a non-success code.
type CatalogError struct {
	Code string
	Msg  string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog error %s: %s", e.Code, e.Msg)
}

// envelope is the venue response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// spotSymbol is the venue spot symbol listing shape.
type spotSymbol struct {
	Symbol         string `json:"symbol"`
	BaseCoin       string `json:"baseCoin"`
	QuoteCoin      string `json:"quoteCoin"`
	Status         string `json:"status"`
	MinTradeAmount string `json:"minTradeAmount"`
	MaxTradeAmount string `json:"maxTradeAmount"`
	QuantityScale  string `json:"quantityScale"`
	PriceScale     string `json:"priceScale"`
}

// futuresContract is the venue futures contract listing shape.
type futuresContract struct {
	Symbol         string `json:"symbol"`
	BaseCoin       string `json:"baseCoin"`
	QuoteCoin      string `json:"quoteCoin"`
	Status         string `json:"symbolStatus"`
	MinTradeNum    string `json:"minTradeNum"`
	MaxTradeNum    string `json:"maxTradeNum"`
	SizeMultiplier string `json:"sizeMultiplier"`
	PricePlace     string `json:"pricePlace"`
}

// ticker carries the 24h volume figures used for ranking.
type ticker struct {
	Symbol      string `json:"symbol"`
	USDTVolume  string `json:"usdtVolume"`
	QuoteVolume string `json:"quoteVolume"`
}

// CatalogClient is the read-only symbol catalog oracle. Every call passes
// through the named rate limiter and the circuit breaker; failed calls are
// retried beneath the breaker.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.AdaptiveLimiter
	breaker *faulttolerance.CircuitBreaker
	retryer *faulttolerance.Retryer
	logger  *logrus.Logger

	mu    sync.RWMutex
	creds Credentials
}

// NewCatalogClient creates a catalog client.
func NewCatalogClient(baseURL string, creds Credentials, limiter *ratelimit.AdaptiveLimiter, logger *logrus.Logger) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		http:    &http.Client{},
		limiter: limiter,
		breaker: faulttolerance.NewCircuitBreaker(faulttolerance.BreakerConfig{Name: "catalog"}, logger),
		retryer: faulttolerance.NewRetryer(faulttolerance.DefaultRetryConfig("catalog"), logger),
		logger:  logger,
		creds:   creds,
	}
}

// SetCredentials hot-swaps the credential triple.
func (c *CatalogClient) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// Credentials returns the current credential triple.
func (c *CatalogClient) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// ListSpotSymbols returns online spot symbols.
func (c *CatalogClient) ListSpotSymbols(ctx context.Context) ([]model.SymbolMeta, error) {
	var listings []spotSymbol
	if err := c.get(ctx, "/api/v2/spot/public/symbols", nil, &listings); err != nil {
		return nil, err
	}

	metas := make([]model.SymbolMeta, 0, len(listings))
	for _, s := range listings {
		if s.Status != "online" {
			continue
		}
		metas = append(metas, model.SymbolMeta{
			Symbol:         s.Symbol,
			Market:         MarketSpot,
			BaseCoin:       s.BaseCoin,
			QuoteCoin:      s.QuoteCoin,
			Status:         s.Status,
			MinSize:        parseFloat(s.MinTradeAmount),
			MaxSize:        parseFloat(s.MaxTradeAmount),
			SizeIncrement:  parseFloat(s.QuantityScale),
			PriceIncrement: parseFloat(s.PriceScale),
		})
	}
	return metas, nil
}

// ListFuturesSymbols returns normal-status contracts for a futures market.
func (c *CatalogClient) ListFuturesSymbols(ctx context.Context, market string) ([]model.SymbolMeta, error) {
	productType, err := ProductType(market)
	if err != nil {
		return nil, err
	}

	var contracts []futuresContract
	params := url.Values{"productType": {productType}}
	if err := c.get(ctx, "/api/v2/mix/market/contracts", params, &contracts); err != nil {
		return nil, err
	}

	metas := make([]model.SymbolMeta, 0, len(contracts))
	for _, f := range contracts {
		if f.Status != "normal" {
			continue
		}
		metas = append(metas, model.SymbolMeta{
			Symbol:         f.Symbol,
			Market:         market,
			BaseCoin:       f.BaseCoin,
			QuoteCoin:      f.QuoteCoin,
			Status:         f.Status,
			MinSize:        parseFloat(f.MinTradeNum),
			MaxSize:        parseFloat(f.MaxTradeNum),
			SizeIncrement:  parseFloat(f.SizeMultiplier),
			PriceIncrement: parseFloat(f.PricePlace),
		})
	}
	return metas, nil
}

// TopByVolume returns the first limit symbols of a market ordered by
// descending 24h notional, lexicographic on ties.
func (c *CatalogClient) TopByVolume(ctx context.Context, market string, limit int) ([]model.SymbolMeta, error) {
	var metas []model.SymbolMeta
	var err error
	if market == MarketSpot {
		metas, err = c.ListSpotSymbols(ctx)
	} else {
		metas, err = c.ListFuturesSymbols(ctx, market)
	}
	if err != nil {
		return nil, err
	}

	volumes, err := c.volumesBySymbol(ctx, market)
	if err != nil {
		return nil, err
	}
	for i := range metas {
		metas[i].Volume24h = volumes[metas[i].Symbol]
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Volume24h != metas[j].Volume24h {
			return metas[i].Volume24h > metas[j].Volume24h
		}
		return metas[i].Symbol < metas[j].Symbol
	})

	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// TestConnection exercises two public endpoints and returns the listing
// counts. Used for credential validation and the control plane.
func (c *CatalogClient) TestConnection(ctx context.Context) (symbols, tickers int, err error) {
	metas, err := c.ListSpotSymbols(ctx)
	if err != nil {
		return 0, 0, err
	}
	volumes, err := c.volumesBySymbol(ctx, MarketSpot)
	if err != nil {
		return 0, 0, err
	}
	return len(metas), len(volumes), nil
}

// volumesBySymbol fetches the 24h quote notional per symbol.
func (c *CatalogClient) volumesBySymbol(ctx context.Context, market string) (map[string]float64, error) {
	var (
		path   string
		params url.Values
	)
	if market == MarketSpot {
		path = "/api/v2/spot/market/tickers"
	} else {
		productType, err := ProductType(market)
		if err != nil {
			return nil, err
		}
		path = "/api/v2/mix/market/tickers"
		params = url.Values{"productType": {productType}}
	}

	var tickers []ticker
	if err := c.get(ctx, path, params, &tickers); err != nil {
		return nil, err
	}

	volumes := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		notional := parseFloat(t.USDTVolume)
		if notional == 0 {
			notional = parseFloat(t.QuoteVolume)
		}
		volumes[t.Symbol] = notional
	}
	return volumes, nil
}

// get performs one venue GET through limiter, breaker and retryer.
func (c *CatalogClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	err := c.breaker.Execute(ctx, func() error {
		return c.retryer.Execute(ctx, func() error {
			return c.doGet(ctx, path, params, out)
		})
	})
	if err != nil {
		c.limiter.ReportError("rest", err.Error())
		return err
	}
	c.limiter.ReportSuccess()
	return nil
}

func (c *CatalogClient) doGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	creds := c.Credentials()

	timeout := publicTimeout
	if creds.Privileged() {
		timeout = privilegedTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if creds.Privileged() {
		signRequest(req, creds, endpoint)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog %s: http %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("catalog decode %s: %w", path, err)
	}
	if env.Code != venueSuccessCode {
		return &CatalogError{Code: env.Code, Msg: env.Msg}
	}
	return json.Unmarshal(env.Data, out)
}

// signRequest attaches the venue HMAC headers for a signed GET.
func signRequest(req *http.Request, creds Credentials, endpoint string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + http.MethodGet + endpoint

	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(message))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("ACCESS-KEY", creds.APIKey)
	req.Header.Set("ACCESS-SIGN", signature)
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", creds.Passphrase)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
