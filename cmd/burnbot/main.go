package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/84hero/burn-notifier/internal/pipeline"
	"github.com/84hero/burn-notifier/internal/server"
	"github.com/84hero/burn-notifier/internal/telegram"
	"github.com/84hero/burn-notifier/pkg/chain"
	"github.com/84hero/burn-notifier/pkg/config"
	"github.com/84hero/burn-notifier/pkg/dedup"
	"github.com/84hero/burn-notifier/pkg/enrich"
	"github.com/84hero/burn-notifier/pkg/notify"
	"github.com/84hero/burn-notifier/pkg/price"
	"github.com/84hero/burn-notifier/pkg/rpc"
	"github.com/84hero/burn-notifier/pkg/sink"
	"github.com/84hero/burn-notifier/pkg/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Crit("Application failed", "err", err)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "burnbot",
		Short:         "Announce token burns to a Telegram channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := Run(cmd.Context(), cfgPath, cmd.Flags())
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	serve.Flags().String("server.addr", "", "listen address, overrides server.addr")
	serve.Flags().String("log.level", "", "debug, info, warn or error")
	serve.Flags().String("chain.preset", "", "chain preset name, e.g. eth-mainnet")

	root.AddCommand(serve)
	return root
}

func setupLogger(cfg config.LogConfig) {
	logLevel := log.LevelInfo
	if cfg.Level == "debug" {
		logLevel = log.LevelDebug
	} else if cfg.Level == "warn" {
		logLevel = log.LevelWarn
	} else if cfg.Level == "error" {
		logLevel = log.LevelError
	}

	if cfg.Format == "json" {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stderr, logLevel)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, true)))
}

func initOutputs(cfg config.OutputsConfig) []sink.Output {
	var outputs []sink.Output

	if wh := cfg.Webhook; wh.Enabled {
		outputs = append(outputs, sink.NewWebhookOutput(sink.WebhookConfig{
			URL:            wh.URL,
			Secret:         wh.Secret,
			MaxAttempts:    wh.Retry.MaxAttempts,
			InitialBackoff: wh.Retry.InitialBackoff,
			MaxBackoff:     wh.Retry.MaxBackoff,
			Async:          wh.Async,
			BufferSize:     wh.BufferSize,
			Workers:        wh.Workers,
		}))
	}

	if cfg.File.Enabled {
		if fo, err := sink.NewFileOutput(cfg.File.Path); err == nil {
			outputs = append(outputs, fo)
		} else {
			log.Warn("File output disabled", "path", cfg.File.Path, "err", err)
		}
	}

	if cfg.Console.Enabled {
		outputs = append(outputs, sink.NewConsoleOutput())
	}

	if cfg.Postgres.Enabled {
		table := cfg.Postgres.Table
		if table == "" {
			table = "burn_records"
		}
		if po, err := sink.NewPostgresOutput(cfg.Postgres.URL, table); err == nil {
			outputs = append(outputs, po)
		} else {
			log.Warn("Postgres output disabled", "err", err)
		}
	}

	if cfg.Redis.Enabled {
		if ro, err := sink.NewRedisOutput(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.Mode); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("Redis output disabled", "addr", cfg.Redis.Addr, "err", err)
		}
	}

	if cfg.Kafka.Enabled {
		if ko, err := sink.NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.User, cfg.Kafka.Password); err == nil {
			outputs = append(outputs, ko)
		} else {
			log.Warn("Kafka output disabled", "err", err)
		}
	}

	if cfg.RabbitMQ.Enabled {
		if ro, err := sink.NewRabbitMQOutput(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.Durable); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("RabbitMQ output disabled", "err", err)
		}
	}

	return outputs
}

// checkChain warns when the RPC nodes serve a different chain than the preset.
func checkChain(ctx context.Context, client rpc.Client, presetName string) {
	preset, ok := chain.Get(presetName)
	if !ok {
		log.Warn("Unknown chain preset", "preset", presetName)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id, err := client.ChainID(ctx)
	if err != nil {
		log.Warn("Could not verify chain id", "err", err)
		return
	}
	if id.Uint64() != preset.ChainID {
		log.Warn("RPC chain id does not match preset", "preset", presetName, "want", preset.ChainID, "got", id)
	}
}

// Run is the testable entry point of the service
func Run(ctx context.Context, cfgPath string, flags *pflag.FlagSet) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	// The bot token usually lives in .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env", "err", err)
	}

	cfg, err := config.Load(cfgPath, flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	setupLogger(cfg.Log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Components
	client, err := rpc.NewClient(runCtx, cfg.RPC)
	if err != nil {
		return err
	}
	defer client.Close()
	checkChain(runCtx, client, cfg.Chain.Preset)

	contract := common.HexToAddress(cfg.Token.Contract)
	balances := token.NewBalanceReader(client, contract, common.HexToAddress(cfg.Token.BurnAddress))

	var prices enrich.PriceSource
	if cfg.Price.Enabled {
		prices = price.NewOracle(cfg.Price, contract.Hex())
	}
	resolver := enrich.NewResolver(balances, prices, cfg.Enrich.Timeout)

	formatter := notify.NewFormatter(notify.Config{
		Title:       cfg.Notify.Title,
		Symbol:      cfg.Token.Symbol,
		Media:       cfg.Notify.Media,
		Footer:      cfg.Notify.Footer,
		ExplorerURL: cfg.Chain.ExplorerURL,
	})

	notifier, err := telegram.New(cfg.Telegram)
	if err != nil {
		return err
	}

	outputs := initOutputs(cfg.Outputs)
	defer func() {
		for _, o := range outputs {
			if err := o.Close(); err != nil {
				log.Warn("Failed to close output", "output", o.Name(), "err", err)
			}
		}
	}()

	p := pipeline.New(dedup.New(cfg.Dedup.Capacity), resolver, formatter, notifier, outputs...)

	srv := server.New(slog.New(log.Root().Handler()), p, server.Config{
		Addr:          cfg.Server.Addr,
		WebhookSecret: cfg.Server.WebhookSecret,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info("Burn notifier started",
		"project", cfg.Project,
		"chain", cfg.Chain.Preset,
		"token", contract,
		"outputs", len(outputs),
		"price", cfg.Price.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		log.Info("Shutting down...")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown incomplete", "err", err)
	}
	return nil
}
