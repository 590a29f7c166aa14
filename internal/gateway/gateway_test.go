package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/ledgersync/internal/config"
)

func TestRPCUnwrapsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "getbalance", req.Method)
		assert.NotEmpty(t, req.ID)

		w.Write([]byte(`{"result": 1.5, "error": null}`))
	}))
	defer srv.Close()
	config.AppConfig.WalletRPC = srv.URL

	raw, err := NewHTTPGateway().RPC(context.Background(), "getbalance", nil, "token-1", false)
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(raw))
}

func TestRPCErrorMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": null, "error": {"code": -32601, "message": "method not found"}}`))
	}))
	defer srv.Close()
	config.AppConfig.WalletRPC = srv.URL

	_, err := NewHTTPGateway().RPC(context.Background(), "nosuch", nil, "", false)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestRPCNotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream error</html>"))
	}))
	defer srv.Close()
	config.AppConfig.WalletRPC = srv.URL

	_, err := NewHTTPGateway().RPC(context.Background(), "getbalance", nil, "", false)
	var payloadErr *PayloadError
	require.ErrorAs(t, err, &payloadErr)
	assert.Equal(t, http.StatusBadGateway, payloadErr.Status)
}

func TestRPCTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	config.AppConfig.WalletRPC = srv.URL

	_, err := NewHTTPGateway().RPC(context.Background(), "getbalance", nil, "", false)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestRPCQABase(t *testing.T) {
	prod := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("production endpoint called with qa flag set")
	}))
	defer prod.Close()
	qa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": true}`))
	}))
	defer qa.Close()
	config.AppConfig.WalletRPC = prod.URL
	config.AppConfig.WalletRPCQA = qa.URL
	defer func() { config.AppConfig.WalletRPCQA = "" }()

	raw, err := NewHTTPGateway().RPC(context.Background(), "ping", nil, "", true)
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))
}

func TestExplorerSignedRequest(t *testing.T) {
	const secret = "test-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/w/tx/list", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-KEY"))

		body, _ := io.ReadAll(r.Body)

		auth := r.Header.Get("Authorization")
		require.True(t, len(auth) > 7)
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(auth[7:], claims, func(tok *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		require.NoError(t, err)
		assert.Equal(t, "/w/tx/list", claims["uri"])

		sum := sha256.Sum256(body)
		assert.Equal(t, hex.EncodeToString(sum[:]), claims["bodyHash"])

		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()
	config.AppConfig.ExplorerAPI = srv.URL
	config.AppConfig.ExplorerAPISecret = secret
	config.AppConfig.ExplorerAPIKey = "key-1"
	defer func() {
		config.AppConfig.ExplorerAPISecret = ""
		config.AppConfig.ExplorerAPIKey = ""
	}()

	raw, err := NewHTTPGateway().Explorer(context.Background(), "w/tx/list", map[string]any{"address": "a"}, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": []}`, string(raw))
}

func TestLiveDaemonBalance(t *testing.T) {
	t.Skip("requires a live wallet daemon")
	// Load .env file
	if err := godotenv.Load("../../.env"); err != nil {
		t.Fatalf("Error loading .env file: %v", err)
	}
	config.InitConfig()

	raw, err := NewHTTPGateway().RPC(context.Background(), "getbalance", nil, os.Getenv("WALLET_TOKEN"), false)
	require.NoError(t, err)
	t.Logf("live balance: %s", raw)
}
