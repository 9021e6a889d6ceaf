package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alihassan145/TurboSol-sub001/agent/submit"
	"github.com/alihassan145/TurboSol-sub001/sender"
	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
)

type Send struct {
	File     string `arg:"" name:"file" help:"File holding one base64 encoded signed transaction, or - for stdin."`
	Bundle   bool   `option:"" name:"bundle" help:"Try the private bundle relay first." default:"false"`
	Strategy string `option:"" name:"strategy" help:"Race aggressiveness: conservative, balanced or aggressive." default:"balanced"`
}

func (r *Send) Run(cliCtx *CLIContext) error {
	ctx := cliCtx.Ctx

	txData, err := r.readTx()
	if err != nil {
		return err
	}

	registryConfig, err := endpoint.ConfigurationFromEnv()
	if err != nil {
		return err
	}
	registry, err := endpoint.Create(ctx, registryConfig)
	if err != nil {
		return err
	}
	s, err := sender.Create(ctx, sender.ConfigurationFromEnv(), registry)
	if err != nil {
		return err
	}
	agent, err := submit.Create(ctx, submit.ConfigurationFromEnv(), s, registry)
	if err != nil {
		return err
	}

	delivery, err := agent.SubmitRaw(ctx, txData, submit.SubmitOptions{
		UseBundleRelay: r.Bundle,
		Strategy:       r.Strategy,
	})
	if err != nil {
		return err
	}
	switch delivery.Stage {
	case submit.StageBundleRelay:
		fmt.Printf("delivered id=%s stage=%s bundle=%s\n", delivery.Id, delivery.Stage, delivery.BundleId)
	default:
		fmt.Printf("delivered id=%s stage=%s signature=%s\n", delivery.Id, delivery.Stage, delivery.Signature)
	}
	if meta, metaErr := s.LastRaceMeta(ctx); metaErr == nil && 0 < meta.Attempts {
		fmt.Printf("race winner=%s attempts=%d latency=%.1fms\n", meta.Winner, meta.Attempts, meta.LatencyMs)
	}
	return nil
}

func (r *Send) readTx() ([]byte, error) {
	var raw []byte
	var err error
	if r.File == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(r.File)
	}
	if err != nil {
		return nil, err
	}
	encoded := strings.TrimSpace(string(raw))
	if len(encoded) == 0 {
		return nil, errors.New("empty transaction input")
	}
	return base64.StdEncoding.DecodeString(encoded)
}
