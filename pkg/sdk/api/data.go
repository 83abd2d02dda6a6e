package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	sdkhttp "github.com/betbot/copybot/pkg/sdk/http"
)

const defaultDataBaseURL = "https://data-api.polymarket.com"

// DataClient queries the Polymarket data API (activity feed, positions).
type DataClient struct {
	http *sdkhttp.Client
}

// NewDataClient creates a data API client. An empty baseURL selects the
// production endpoint.
func NewDataClient(baseURL string) *DataClient {
	if baseURL == "" {
		baseURL = defaultDataBaseURL
	}
	return &DataClient{http: sdkhttp.NewClient(baseURL)}
}

// ActivityQuery controls /activity requests.
type ActivityQuery struct {
	User  string
	Side  string
	Limit int
	After int64    // Unix timestamp - only return records after this time (for incremental updates)
	Types []string // defaults to TRADE only
}

// GetActivity fetches recent activity records for a user, newest first.
func (c *DataClient) GetActivity(ctx context.Context, query ActivityQuery) ([]ActivityTrade, error) {
	if query.User == "" {
		return nil, errors.New("user address is required for activity")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}

	params := map[string]any{
		"user":  query.User,
		"limit": limit,
	}
	if query.Side != "" {
		params["side"] = strings.ToUpper(query.Side)
	}
	if query.After > 0 {
		params["after"] = strconv.FormatInt(query.After, 10)
	}
	if len(query.Types) > 0 {
		params["type"] = strings.Join(query.Types, ",")
	} else {
		params["type"] = "TRADE"
	}

	var trades []ActivityTrade
	resp, err := c.http.DoRequest(ctx, "GET", "/activity", &sdkhttp.RequestOptions{Params: params}, &trades)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrap(err, "fetch activity")
	}
	return trades, nil
}

// GetOpenPositions fetches current open positions (holdings) for a user.
func (c *DataClient) GetOpenPositions(ctx context.Context, userAddress string) ([]OpenPosition, error) {
	if userAddress == "" {
		return nil, errors.New("user address is required for open positions")
	}

	var positions []OpenPosition
	resp, err := c.http.DoRequest(ctx, "GET", "/positions",
		&sdkhttp.RequestOptions{Params: map[string]any{"user": userAddress}}, &positions)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrap(err, "fetch open positions")
	}
	return positions, nil
}
