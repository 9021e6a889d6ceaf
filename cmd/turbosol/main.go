package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type CLIContext struct {
	Ctx context.Context
}

type debugFlag bool

func (d debugFlag) AfterApply() error {
	if d {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

type envFile string

func (e envFile) AfterApply() error {
	if len(e) == 0 {
		return nil
	}
	err := godotenv.Load(string(e))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var cli struct {
	Verbose debugFlag `help:"Set logging to verbose." short:"v" default:"false"`
	EnvFile envFile   `option:"" name:"env" help:"Env file with RPC_URLS and tuning knobs." default:".env"`
	Send    Send      `cmd:"" name:"send" help:"Deliver a signed transaction via relay, race and direct fallback."`
	Probe   Probe     `cmd:"" name:"probe" help:"Measure latency to the configured RPC endpoints."`
	Fee     Fee       `cmd:"" name:"fee" help:"Recommend a priority fee from recent network samples."`
}

func main() {
	log.SetLevel(log.InfoLevel)
	kongCtx := kong.Parse(&cli,
		kong.Name("turbosol"),
		kong.Description("Multi-endpoint Solana transaction delivery engine."),
		kong.UsageOnError(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGTERM)
	go loopSignal(ctx, cancel, signalC)

	err := kongCtx.Run(&CLIContext{Ctx: ctx})
	cancel()
	if err != nil {
		log.Fatal(err)
	}
}

func loopSignal(ctx context.Context, cancel context.CancelFunc, signalC <-chan os.Signal) {
	defer cancel()
	doneC := ctx.Done()
	select {
	case <-doneC:
	case s := <-signalC:
		log.Infof("received signal %s", s)
	}
}
