package main

import (
	"fmt"

	"github.com/alihassan145/TurboSol-sub001/pricing"
	"github.com/alihassan145/TurboSol-sub001/util"
)

type Fee struct {
	Samples int `option:"" name:"samples" help:"How many recent fee observations to sample." default:"16"`
}

func (r *Fee) Run(cliCtx *CLIContext) error {
	ctx := cliCtx.Ctx

	rpcConfig, err := util.RpcConfigFromEnv()
	if err != nil {
		return err
	}
	estimator, err := pricing.Create(
		ctx,
		pricing.ConfigurationFromEnv(),
		rpcConfig.RpcClient(rpcConfig.Urls[0]),
	)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", estimator.Estimate(ctx, r.Samples))
	return nil
}
