package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alihassan145/TurboSol-sub001/errormsg"
	"github.com/alihassan145/TurboSol-sub001/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const bundlePath = "/api/v1/bundles"

type Configuration struct {
	// Url is the block engine base url; blank disables the relay stage.
	Url     string
	AuthId  string
	Timeout time.Duration
}

func ConfigurationFromEnv() Configuration {
	return Configuration{
		Url:     util.GetenvString("JITO_BLOCK_ENGINE_URL", ""),
		AuthId:  util.GetenvString("JITO_AUTH_ID", ""),
		Timeout: util.GetenvDurationMs("JITO_TIMEOUT_MS", 1500*time.Millisecond),
	}
}

func (config Configuration) Check() error {
	if len(config.Url) == 0 {
		return errors.New("no block engine url")
	}
	if config.Timeout <= 0 {
		return errors.New("no relay timeout")
	}
	return nil
}

func (config Configuration) Enabled() bool {
	return len(config.Url) != 0
}

// Client submits bundles to a Jito block engine over JSON-RPC.
type Client struct {
	config Configuration
	http   *http.Client
}

func Create(config Configuration) (*Client, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Id      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// SubmitBundle posts base64 encoded transactions as one bundle and returns
// the relay assigned bundle id. An explicit relay refusal surfaces as
// errormsg.ErrRelayRejected; transport failures come back as plain errors
// for the caller to classify.
func (e1 *Client) SubmitBundle(ctx context.Context, base64Txs []string) (string, error) {
	if len(base64Txs) == 0 {
		return "", errors.New("no transactions in bundle")
	}
	body, err := e1.call(ctx, "sendBundle", []interface{}{
		base64Txs,
		map[string]string{"encoding": "base64"},
	})
	if err != nil {
		return "", err
	}
	bundleId := gjson.GetBytes(body, "result").String()
	if len(bundleId) == 0 {
		return "", errors.New("relay returned no bundle id")
	}
	log.Debugf("bundle accepted id=%s", bundleId)
	return bundleId, nil
}

// GetTipAccounts lists the relay's tip accounts.
func (e1 *Client) GetTipAccounts(ctx context.Context) ([]string, error) {
	body, err := e1.call(ctx, "getTipAccounts", []interface{}{})
	if err != nil {
		return nil, err
	}
	var list []string
	for _, r := range gjson.GetBytes(body, "result").Array() {
		list = append(list, r.String())
	}
	return list, nil
}

func (e1 *Client) call(ctx context.Context, method string, params []interface{}) ([]byte, error) {
	payload, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	ctxC, cancel := context.WithTimeout(ctx, e1.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctxC, http.MethodPost, e1.config.Url+bundlePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(e1.config.AuthId) != 0 {
		req.Header.Set("x-jito-auth", e1.config.AuthId)
	}
	resp, err := e1.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		return nil, errormsg.RelayRejected(
			int(rpcErr.Get("code").Int()),
			rpcErr.Get("message").String(),
		)
	}
	if http.StatusBadRequest <= resp.StatusCode {
		return nil, fmt.Errorf("relay http status %d", resp.StatusCode)
	}
	return body, nil
}
