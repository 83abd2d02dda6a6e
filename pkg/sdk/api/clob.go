package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/copybot/pkg/logger"
)

const defaultClobBaseURL = "https://clob.polymarket.com"

// Exchange contracts on Polygon. The verifying contract for order
// signatures depends on whether the market is in the neg-risk pool.
const (
	CTFExchangeAddress     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// ClobClient talks to the Polymarket CLOB API. Authenticated endpoints
// use L2 HMAC headers derived from API credentials; credential bootstrap
// uses L1 EIP-712 signatures.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	auth          *Auth
	apiCreds      *APICreds
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
}

// APICreds holds API credentials for CLOB
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// OrderBook represents the order book for a token
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Hash      string           `json:"hash"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel represents a single price level
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// MarketInfo represents market information from CLOB
type MarketInfo struct {
	ConditionID      string          `json:"condition_id"`
	QuestionID       string          `json:"question_id"`
	Tokens           []ClobTokenInfo `json:"tokens"`
	MinimumOrderSize float64         `json:"minimum_order_size"`
	MinimumTickSize  float64         `json:"minimum_tick_size"`
	Description      string          `json:"description"`
	EndDateISO       string          `json:"end_date_iso"`
	Active           bool            `json:"active"`
	Closed           bool            `json:"closed"`
	MarketSlug       string          `json:"market_slug"`
	MakerBaseFee     float64         `json:"maker_base_fee"`
	TakerBaseFee     float64         `json:"taker_base_fee"`
	NegRisk          bool            `json:"neg_risk"`
}

// ClobTokenInfo represents token information from CLOB
type ClobTokenInfo struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: must fill entirely or cancel
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill: fill available, cancel rest
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled (resting limit order)
)

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order represents a signed order
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	sideInt       int    // 0=BUY, 1=SELL for EIP-712
}

// OrderRequest is the payload for placing an order
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the response from placing an order
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// OrderParams are the validated parameters for one order. Price must be
// tick-aligned and size rounded to 4 decimals before calling PlaceOrder.
type OrderParams struct {
	TokenID    string
	Side       Side
	Size       float64 // shares
	Price      float64
	NegRisk    bool
	FeeRateBps int
}

// BalanceAllowance represents the balance and allowance for an account
type BalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// AssetType represents the type of asset
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"  // USDC
	AssetTypeConditional AssetType = "CONDITIONAL" // Outcome tokens
)

// NewClobClient creates a new CLOB API client
func NewClobClient(baseURL string, auth *Auth) (*ClobClient, error) {
	if baseURL == "" {
		baseURL = defaultClobBaseURL
	}
	if auth == nil {
		return nil, fmt.Errorf("auth is required")
	}

	// Keep connections alive: skipping DNS + TCP + TLS handshakes saves
	// a few hundred ms on the order path.
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		Proxy:               http.ProxyFromEnvironment,
	}

	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		auth:          auth,
		chainID:       137, // Polygon mainnet
		funder:        auth.GetAddress(),
		signatureType: 0, // EOA
	}, nil
}

// SetFunder sets the funder address for Magic/proxy wallets. The funder
// is the Polymarket profile address where USDC is held.
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType sets the signature type (0=EOA, 1=Magic/Email, 2=Browser proxy)
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

// EnsureAPICreds derives API credentials if none are loaded yet.
func (c *ClobClient) EnsureAPICreds(ctx context.Context) error {
	if c.apiCreds != nil {
		return nil
	}
	_, err := c.DeriveAPICreds(ctx)
	return err
}

// APICreds returns the loaded credentials, or nil before EnsureAPICreds.
func (c *ClobClient) APICreds() *APICreds {
	return c.apiCreds
}

// DeriveAPICreds obtains L2 API credentials for the signing wallet.
// It first tries to derive existing credentials, then falls back to
// creating a fresh key.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	creds, deriveErr := c.deriveAPICreds(ctx)
	if deriveErr == nil {
		c.apiCreds = creds
		return creds, nil
	}

	logger.Debugf("[CLOB] derive creds failed (%v), creating new key", deriveErr)
	creds, createErr := c.createAPICreds(ctx)
	if createErr != nil {
		return nil, fmt.Errorf("failed to obtain API creds: derive: %v, create: %w", deriveErr, createErr)
	}
	c.apiCreds = creds
	return creds, nil
}

func (c *ClobClient) deriveAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("derive API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

func (c *ClobClient) createAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	// Nonce makes the generated API key unique per call.
	body := fmt.Sprintf(`{"nonce":%d}`, time.Now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth/api-key", bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

// GetOrderBook fetches the current book for a token. Asks are sorted
// ascending (best first) and bids descending (best first).
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order book failed: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode order book: %w", err)
	}

	sort.Slice(book.Asks, func(i, j int) bool {
		priceI, _ := strconv.ParseFloat(book.Asks[i].Price, 64)
		priceJ, _ := strconv.ParseFloat(book.Asks[j].Price, 64)
		return priceI < priceJ
	})
	sort.Slice(book.Bids, func(i, j int) bool {
		priceI, _ := strconv.ParseFloat(book.Bids[i].Price, 64)
		priceJ, _ := strconv.ParseFloat(book.Bids[j].Price, 64)
		return priceI > priceJ
	})

	return &book, nil
}

// GetMarket fetches market information by condition ID
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/markets/"+conditionID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get market failed: %d %s", resp.StatusCode, string(body))
	}

	var market MarketInfo
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return nil, fmt.Errorf("failed to decode market: %w", err)
	}
	return &market, nil
}

// GetBalanceAllowance fetches venue balance and allowance for the
// authenticated user. tokenID is required for CONDITIONAL asset type.
func (c *ClobClient) GetBalanceAllowance(ctx context.Context, assetType AssetType, tokenID string) (*BalanceAllowance, error) {
	if err := c.EnsureAPICreds(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("asset_type", string(assetType))
	if tokenID != "" {
		params.Set("token_id", tokenID)
	}
	params.Set("signature_type", strconv.Itoa(c.signatureType))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/balance-allowance?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get balance allowance failed: %d %s", resp.StatusCode, string(body))
	}

	var result BalanceAllowance
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode balance allowance: %w", err)
	}
	return &result, nil
}

// GetUSDCBalance returns the venue USDC balance in human-readable units
func (c *ClobClient) GetUSDCBalance(ctx context.Context) (float64, error) {
	ba, err := c.GetBalanceAllowance(ctx, AssetTypeCollateral, "")
	if err != nil {
		return 0, err
	}

	// Balance is in 6-decimal USDC format (e.g. "1000000" = $1.00)
	balanceInt, err := strconv.ParseInt(ba.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance: %w", err)
	}
	return float64(balanceInt) / 1e6, nil
}

// PlaceOrder signs and submits an order of the given type.
func (c *ClobClient) PlaceOrder(ctx context.Context, params OrderParams, orderType OrderType) (*OrderResponse, error) {
	if err := c.EnsureAPICreds(ctx); err != nil {
		return nil, fmt.Errorf("failed to get API creds: %w", err)
	}

	order, err := c.createSignedOrder(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed order: %w", err)
	}

	return c.postOrder(ctx, order, orderType)
}

// createSignedOrder converts validated order params into a signed wire
// order. Amounts are encoded in 6-decimal base units with marketable
// precision: USDC legs to 2 decimals, share legs to 4 decimals.
func (c *ClobClient) createSignedOrder(params OrderParams) (*Order, error) {
	if params.Size <= 0 || params.Price <= 0 {
		return nil, fmt.Errorf("invalid order params: size=%f price=%f", params.Size, params.Price)
	}

	// Shares: 4 decimals -> multiples of 100 in 6-decimal format.
	sharesIn6Dec := int64(params.Size*10000+0.5) * 100
	sharesInt := big.NewInt(sharesIn6Dec)

	// USDC: 2 decimals -> multiples of 10000 in 6-decimal format.
	usdcValue := params.Size * params.Price
	usdcIn6Dec := int64(usdcValue*100+0.5) * 10000
	usdcInt := big.NewInt(usdcIn6Dec)

	var makerAmount, takerAmount *big.Int
	sideInt := 0
	sideStr := "BUY"
	if params.Side == SideBuy {
		// BUY: give USDC, receive shares
		makerAmount = usdcInt
		takerAmount = sharesInt
	} else {
		// SELL: give shares, receive USDC
		makerAmount = sharesInt
		takerAmount = usdcInt
		sideInt = 1
		sideStr = "SELL"
	}

	// For proxy wallets maker is the funder, signer is the key wallet.
	// For EOA wallets the two are the same address.
	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       params.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(params.FeeRateBps),
		Side:          sideStr,
		SignatureType: c.signatureType,
		sideInt:       sideInt,
	}

	signature, err := c.signOrder(order, params.NegRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	verifyingContract := CTFExchangeAddress
	if negRisk {
		verifyingContract = NegRiskExchangeAddress
	}

	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(c.chainID),
		VerifyingContract: verifyingContract,
	}

	tokenID := new(big.Int)
	tokenID.SetString(order.TokenID, 10)
	makerAmount := new(big.Int)
	makerAmount.SetString(order.MakerAmount, 10)
	takerAmount := new(big.Int)
	takerAmount.SetString(order.TakerAmount, 10)
	feeRateBps := new(big.Int)
	feeRateBps.SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         common.HexToAddress(order.Maker).Hex(),
		"signer":        common.HexToAddress(order.Signer).Hex(),
		"taker":         common.HexToAddress(order.Taker).Hex(),
		"tokenId":       tokenID,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    big.NewInt(0),
		"nonce":         big.NewInt(0),
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.sideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *Order, orderType OrderType) (*OrderResponse, error) {
	payload := OrderRequest{
		Order:     *order,
		Owner:     c.apiCreds.APIKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &orderResp, nil
}

// CancelAll cancels all open orders for the authenticated user.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	if err := c.EnsureAPICreds(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/cancel-all", nil)
	if err != nil {
		return err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel all failed: %d %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// addL2Headers signs the request with HMAC L2 authentication.
// Message format: timestamp + method + path + body.
func (c *ClobClient) addL2Headers(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	signature := c.hmacSign(message, c.apiCreds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", c.apiCreds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.apiCreds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func (c *ClobClient) hmacSign(message string, secret string) string {
	// Secret is URL-safe base64; fall back to standard alphabet, then raw.
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano() % 1000000000
}
