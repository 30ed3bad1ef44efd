// Package capital implements broker.Broker against a Capital.com style REST
// API, with an optional websocket quote stream.
package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

const (
	DemoURL   = "https://demo-api-capital.backend-capital.com"
	LiveURL   = "https://api-capital.backend-capital.com"
	StreamURL = "wss://api-streaming-capital.backend-capital.com/connect"

	// DefaultQuoteMaxAge bounds how old a streamed quote may be before
	// LatestQuote goes back to REST.
	DefaultQuoteMaxAge = 5 * time.Second
)

// BaseURL maps an environment name to the REST endpoint.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "demo", "practice", "":
		return DemoURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown capital env %q (want demo|live)", env)
	}
}

// Credentials are the session headers every request carries.
type Credentials struct {
	APIKey        string
	CST           string
	SecurityToken string
}

type Client struct {
	BaseURL string
	Creds   Credentials
	HTTP    *http.Client

	// Ticks, when set, is consulted by LatestQuote before REST. A Stream
	// keeps it current.
	Ticks       *market.TickStore
	QuoteMaxAge time.Duration

	now func() time.Time
}

func NewClient(baseURL string, creds Credentials) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Creds:       creds,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		QuoteMaxAge: DefaultQuoteMaxAge,
		now:         time.Now,
	}
}

var _ broker.Broker = (*Client)(nil)

type errorPayload struct {
	ErrorCode string `json:"errorCode"`
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("X-CAP-API-KEY", c.Creds.APIKey)
	req.Header.Set("CST", c.Creds.CST)
	req.Header.Set("X-SECURITY-TOKEN", c.Creds.SecurityToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var ep errorPayload
		if json.Unmarshal(b, &ep) == nil && ep.ErrorCode != "" {
			return &broker.RejectionError{Op: op, Code: ep.ErrorCode}
		}
		return fmt.Errorf("%s: capital http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

type dealReference struct {
	DealReference string `json:"dealReference"`
}

type confirmResponse struct {
	DealReference string  `json:"dealReference"`
	DealID        string  `json:"dealId"`
	DealStatus    string  `json:"dealStatus"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason"`
	Level         float64 `json:"level"`
	AffectedDeals []struct {
		DealID string `json:"dealId"`
		Status string `json:"status"`
	} `json:"affectedDeals"`
}

func (c *Client) confirm(ctx context.Context, op, ref string) (broker.Ack, error) {
	var cr confirmResponse
	if err := c.do(ctx, op, http.MethodGet, "/api/v1/confirms/"+url.PathEscape(ref), nil, nil, &cr); err != nil {
		return broker.Ack{}, err
	}

	ack := broker.Ack{BrokerOrderID: cr.DealID, DealStatus: broker.DealStatus(strings.ToUpper(cr.DealStatus)), Reason: cr.Reason}
	if ack.BrokerOrderID == "" && len(cr.AffectedDeals) > 0 {
		ack.BrokerOrderID = cr.AffectedDeals[0].DealID
	}
	if ack.DealStatus != broker.Accepted {
		ack.DealStatus = broker.Rejected
	}
	return ack, nil
}

type positionRequest struct {
	Epic        string   `json:"epic"`
	Direction   string   `json:"direction"`
	Size        float64  `json:"size"`
	StopLevel   *float64 `json:"stopLevel,omitempty"`
	ProfitLevel *float64 `json:"profitLevel,omitempty"`
}

type workingOrderRequest struct {
	Epic         string   `json:"epic"`
	Direction    string   `json:"direction"`
	Size         float64  `json:"size"`
	Level        float64  `json:"level"`
	Type         string   `json:"type"`
	GoodTillDate string   `json:"goodTillDate,omitempty"`
	StopLevel    *float64 `json:"stopLevel,omitempty"`
	ProfitLevel  *float64 `json:"profitLevel,omitempty"`
}

func optional(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func (c *Client) CreateMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	body := positionRequest{
		Epic:        req.Instrument,
		Direction:   string(req.Side),
		Size:        req.Size,
		StopLevel:   optional(req.StopLevel),
		ProfitLevel: optional(req.ProfitLevel),
	}
	var ref dealReference
	if err := c.do(ctx, "create_market", http.MethodPost, "/api/v1/positions", nil, body, &ref); err != nil {
		return broker.Ack{}, err
	}
	return c.confirm(ctx, "create_market", ref.DealReference)
}

func (c *Client) createWorking(ctx context.Context, op string, kind broker.OrderKind, req broker.OrderRequest) (broker.Ack, error) {
	body := workingOrderRequest{
		Epic:        req.Instrument,
		Direction:   string(req.Side),
		Size:        req.Size,
		Level:       req.Price,
		Type:        string(kind),
		StopLevel:   optional(req.StopLevel),
		ProfitLevel: optional(req.ProfitLevel),
	}
	if !req.GoodTillDate.IsZero() {
		body.GoodTillDate = req.GoodTillDate.UTC().Format("2006-01-02T15:04:05")
	}
	var ref dealReference
	if err := c.do(ctx, op, http.MethodPost, "/api/v1/workingorders", nil, body, &ref); err != nil {
		return broker.Ack{}, err
	}
	return c.confirm(ctx, op, ref.DealReference)
}

func (c *Client) CreateLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	return c.createWorking(ctx, "create_limit", broker.Limit, req)
}

func (c *Client) CreateStopOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	return c.createWorking(ctx, "create_stop", broker.Stop, req)
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var ref dealReference
	return c.do(ctx, "cancel", http.MethodDelete, "/api/v1/workingorders/"+url.PathEscape(brokerOrderID), nil, nil, &ref)
}

type workingOrdersResponse struct {
	WorkingOrders []struct {
		WorkingOrderData struct {
			DealID     string  `json:"dealId"`
			Epic       string  `json:"epic"`
			OrderLevel float64 `json:"orderLevel"`
		} `json:"workingOrderData"`
	} `json:"workingOrders"`
}

type positionsResponse struct {
	Positions []struct {
		Position struct {
			DealID         string  `json:"dealId"`
			WorkingOrderID string  `json:"workingOrderId"`
			Level          float64 `json:"level"`
			CreatedDateUTC string  `json:"createdDateUTC"`
		} `json:"position"`
	} `json:"positions"`
}

type activityResponse struct {
	Activities []struct {
		DateUTC string `json:"dateUTC"`
		DealID  string `json:"dealId"`
		Type    string `json:"type"`
		Status  string `json:"status"`
		Details struct {
			Level          float64 `json:"level"`
			WorkingOrderID string  `json:"workingOrderId"`
		} `json:"details"`
	} `json:"activities"`
}

// Capital timestamps carry no zone and are UTC.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// OrderStatus resolves a working order id. A still listed working order is
// WORKING. An order that left the book is FILLED when an open position or an
// executed position activity references it, otherwise CANCELLED.
func (c *Client) OrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	st := broker.OrderStatus{BrokerOrderID: brokerOrderID}

	var wo workingOrdersResponse
	if err := c.do(ctx, "order_status", http.MethodGet, "/api/v1/workingorders", nil, nil, &wo); err != nil {
		return st, err
	}
	for _, w := range wo.WorkingOrders {
		if w.WorkingOrderData.DealID == brokerOrderID {
			st.State = broker.StateWorking
			return st, nil
		}
	}

	var pos positionsResponse
	if err := c.do(ctx, "order_status", http.MethodGet, "/api/v1/positions", nil, nil, &pos); err != nil {
		return st, err
	}
	for _, p := range pos.Positions {
		if p.Position.WorkingOrderID == brokerOrderID || p.Position.DealID == brokerOrderID {
			st.State = broker.StateFilled
			st.FillPrice = p.Position.Level
			st.FillTime = parseTime(p.Position.CreatedDateUTC)
			return st, nil
		}
	}

	var act activityResponse
	q := url.Values{"dealId": {brokerOrderID}, "detailed": {"true"}}
	if err := c.do(ctx, "order_status", http.MethodGet, "/api/v1/history/activity", q, nil, &act); err != nil {
		return st, err
	}
	for _, a := range act.Activities {
		if strings.EqualFold(a.Type, "POSITION") && strings.EqualFold(a.Status, "ACCEPTED") {
			st.State = broker.StateFilled
			st.FillPrice = a.Details.Level
			st.FillTime = parseTime(a.DateUTC)
			return st, nil
		}
	}

	st.State = broker.StateCancelled
	st.Reason = "order no longer working"
	for _, a := range act.Activities {
		if strings.EqualFold(a.Status, "REJECTED") {
			st.State = broker.StateRejected
			st.Reason = "order rejected"
		}
	}
	return st, nil
}

type distance struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// price converts the distance to price units. Percentages are relative to
// ref.
func (d distance) price(ref float64) float64 {
	if strings.EqualFold(d.Unit, "PERCENTAGE") {
		return d.Value / 100 * ref
	}
	return d.Value
}

type marketResponse struct {
	Instrument struct {
		Epic string `json:"epic"`
	} `json:"instrument"`
	DealingRules struct {
		MinDealSize             distance `json:"minDealSize"`
		MaxDealSize             distance `json:"maxDealSize"`
		MinStopOrProfitDistance distance `json:"minStopOrProfitDistance"`
		MaxStopOrProfitDistance distance `json:"maxStopOrProfitDistance"`
	} `json:"dealingRules"`
	Snapshot struct {
		Bid                 float64 `json:"bid"`
		Offer               float64 `json:"offer"`
		DecimalPlacesFactor int     `json:"decimalPlacesFactor"`
		UpdateTime          string  `json:"updateTime"`
	} `json:"snapshot"`
}

func (c *Client) marketInfo(ctx context.Context, op, epic string) (marketResponse, error) {
	var mr marketResponse
	err := c.do(ctx, op, http.MethodGet, "/api/v1/markets/"+url.PathEscape(epic), nil, nil, &mr)
	return mr, err
}

func (c *Client) InstrumentRules(ctx context.Context, instrument string) (broker.Rules, error) {
	mr, err := c.marketInfo(ctx, "instrument_rules", instrument)
	if err != nil {
		return broker.Rules{}, err
	}

	mid := (mr.Snapshot.Bid + mr.Snapshot.Offer) / 2
	dr := mr.DealingRules
	r := broker.Rules{
		Instrument:        instrument,
		MinSize:           dr.MinDealSize.Value,
		MaxSize:           dr.MaxDealSize.Value,
		MinStopDistance:   dr.MinStopOrProfitDistance.price(mid),
		MaxStopDistance:   dr.MaxStopOrProfitDistance.price(mid),
		MinProfitDistance: dr.MinStopOrProfitDistance.price(mid),
		MaxProfitDistance: dr.MaxStopOrProfitDistance.price(mid),
		DecimalPlaces:     mr.Snapshot.DecimalPlacesFactor,
	}
	if r.DecimalPlaces > 0 {
		r.PipValue = math.Pow10(-r.DecimalPlaces)
	}
	return r, nil
}

func (c *Client) LatestQuote(ctx context.Context, instrument string) (market.Tick, error) {
	if c.Ticks != nil {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		if t, ok := c.Ticks.Fresh(instrument, c.QuoteMaxAge, now()); ok {
			return t, nil
		}
	}

	mr, err := c.marketInfo(ctx, "latest_quote", instrument)
	if err != nil {
		return market.Tick{}, err
	}
	if mr.Snapshot.Bid == 0 && mr.Snapshot.Offer == 0 {
		return market.Tick{}, fmt.Errorf("latest_quote %s: %w", instrument, market.ErrNoPrice)
	}
	t := market.Tick{
		Instrument: instrument,
		Time:       parseTime(mr.Snapshot.UpdateTime),
		Bid:        mr.Snapshot.Bid,
		Ask:        mr.Snapshot.Offer,
	}
	return t, nil
}

type accountsResponse struct {
	Accounts []struct {
		AccountID string `json:"accountId"`
		Currency  string `json:"currency"`
		Preferred bool   `json:"preferred"`
		Balance   struct {
			Balance    float64 `json:"balance"`
			ProfitLoss float64 `json:"profitLoss"`
			Available  float64 `json:"available"`
		} `json:"balance"`
	} `json:"accounts"`
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	var ar accountsResponse
	if err := c.do(ctx, "account", http.MethodGet, "/api/v1/accounts", nil, nil, &ar); err != nil {
		return broker.Account{}, err
	}
	if len(ar.Accounts) == 0 {
		return broker.Account{}, fmt.Errorf("account: no accounts returned")
	}

	a := ar.Accounts[0]
	for _, cand := range ar.Accounts {
		if cand.Preferred {
			a = cand
			break
		}
	}
	return broker.Account{
		ID:        a.AccountID,
		Currency:  a.Currency,
		Balance:   a.Balance.Balance,
		Equity:    a.Balance.Balance + a.Balance.ProfitLoss,
		Available: a.Balance.Available,
	}, nil
}
