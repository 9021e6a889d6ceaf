package main

import (
	"fmt"
	"sort"

	"github.com/alihassan145/TurboSol-sub001/state/endpoint"
)

type Probe struct{}

func (r *Probe) Run(cliCtx *CLIContext) error {
	ctx := cliCtx.Ctx

	config, err := endpoint.ConfigurationFromEnv()
	if err != nil {
		return err
	}
	prober := endpoint.CreateHealthProber(config.ProbeTimeout, config.Rpc.RpcClient)
	list := prober.MeasureEndpointsLatency(ctx, config.Rpc.Urls)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LatencyMs < list[j].LatencyMs
	})
	for _, m := range list {
		if m.Err != nil {
			fmt.Printf("%-60s unreachable (%s)\n", m.Url, m.Err)
			continue
		}
		fmt.Printf("%-60s %8.1fms\n", m.Url, m.LatencyMs)
	}
	return nil
}
