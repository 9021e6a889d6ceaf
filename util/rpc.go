package util

import (
	"errors"
	"net/http"
	"os"

	sgorpc "github.com/gagliardetto/solana-go/rpc"
)

type RpcConfig struct {
	Urls    []string
	Headers http.Header
}

// RpcConfigFromEnv reads RPC_URLS (comma separated). A single RPC_URL is
// accepted as a fallback.
func RpcConfigFromEnv() (*RpcConfig, error) {
	config := new(RpcConfig)
	config.Urls = GetenvUrls("RPC_URLS")
	if len(config.Urls) == 0 {
		single, present := os.LookupEnv("RPC_URL")
		if !present || len(single) == 0 {
			return nil, errors.New("no rpc url")
		}
		config.Urls = []string{single}
	}
	return config, nil
}

func (config *RpcConfig) Check() error {
	if config == nil || len(config.Urls) == 0 {
		return errors.New("no rpc url")
	}
	return nil
}

// RpcClient builds a client for a single url, copying configured headers.
func (config *RpcConfig) RpcClient(url string) *sgorpc.Client {
	h := make(map[string]string)
	for k, v := range config.Headers {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	if len(h) == 0 {
		return sgorpc.New(url)
	}
	return sgorpc.NewWithHeaders(url, h)
}
