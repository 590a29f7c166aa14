package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-errors/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/config"
)

// Client is the HTTP call gateway the sync engines consume. It hides wire
// request construction: callers supply a method or endpoint, a JSON
// payload, and for RPC calls a bearer token.
type Client interface {
	RPC(ctx context.Context, method string, params []any, token string, qa bool) (json.RawMessage, error)
	Explorer(ctx context.Context, endpoint string, body any, qa bool) (json.RawMessage, error)
}

// HTTPGateway is the production Client. Explorer calls are signed with an
// HS256 JWT (uri/nonce/iat/exp/bodyHash claims) when an API secret is
// configured.
type HTTPGateway struct {
	httpClient *http.Client
}

func NewHTTPGateway() *HTTPGateway {
	return &HTTPGateway{
		httpClient: &http.Client{Timeout: config.AppConfig.HTTPTimeout},
	}
}

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPC posts a JSON-RPC call to the wallet daemon and returns the unwrapped
// result member.
func (g *HTTPGateway) RPC(ctx context.Context, method string, params []any, token string, qa bool) (json.RawMessage, error) {
	baseURL := config.AppConfig.WalletRPC
	if qa && config.AppConfig.WalletRPCQA != "" {
		baseURL = config.AppConfig.WalletRPCQA
	}
	if params == nil {
		params = []any{}
	}

	reqBody, err := json.Marshal(rpcRequest{ID: uuid.New().String(), Method: method, Params: params})
	if err != nil {
		return nil, errors.Errorf("error marshaling rpc request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Errorf("error creating rpc request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	status, respBody, err := g.do(req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &PayloadError{Status: status, Reason: "response is not json"}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 {
		return nil, &PayloadError{Status: status, Reason: "response has no result"}
	}
	return resp.Result, nil
}

// Explorer posts a call to the block-explorer API and returns the raw
// response object.
func (g *HTTPGateway) Explorer(ctx context.Context, endpoint string, body any, qa bool) (json.RawMessage, error) {
	baseURL := config.AppConfig.ExplorerAPI
	if qa && config.AppConfig.ExplorerAPIQA != "" {
		baseURL = config.AppConfig.ExplorerAPIQA
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Errorf("error marshaling explorer request: %v", err)
	}

	url := fmt.Sprintf("%s/%s", baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Errorf("error creating explorer request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if secret := config.AppConfig.ExplorerAPISecret; secret != "" {
		signedToken, err := signRequest(secret, "/"+endpoint, reqBody)
		if err != nil {
			return nil, errors.Errorf("error signing explorer request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+signedToken)
	}
	if apiKey := config.AppConfig.ExplorerAPIKey; apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}

	status, respBody, err := g.do(req)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &PayloadError{Status: status, Reason: "response is not json"}
	}
	return result, nil
}

func (g *HTTPGateway) do(req *http.Request) (int, []byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Debugf("Remote call to %s failed: %v", req.URL, err)
		return 0, nil, ErrEmptyResponse
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, ErrEmptyResponse
	}
	return resp.StatusCode, respBody, nil
}

func signRequest(secret, uri string, body []byte) (string, error) {
	h := sha256.New()
	h.Write(body)
	bodyHash := h.Sum(nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uri":      uri,
		"nonce":    uuid.New().String(),
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(time.Minute).Unix(),
		"bodyHash": hex.EncodeToString(bodyHash),
	})
	return token.SignedString([]byte(secret))
}
