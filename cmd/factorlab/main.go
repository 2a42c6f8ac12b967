// factorlab - rolling-window factor backtests over daily bars
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"factorlab/api"
	"factorlab/internal/calculator"
	"factorlab/internal/config"
	"factorlab/internal/data"
	"factorlab/internal/logger"
	"factorlab/internal/service"
	"factorlab/internal/util"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	configPath string
	pricesPath string
	startDate  string
	endDate    string
	outputDir  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "factorlab",
		Short: "Walk-forward factor backtests for daily equity bars",
		Long: `factorlab computes rolling price/volume factors over a daily bar
dataset, trains a gradient-boosted scoring model on a trailing window,
and simulates an equal-weight top-N portfolio with whole-share sizing.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to yaml config (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVarP(&pricesPath, "prices", "p", "", "Path to daily bars csv (overrides config)")

	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func backtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a backtest and write nav + holdings csv artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runBacktest(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&startDate, "start", "", "First trading day (YYYY-MM-DD, overrides config)")
	cmd.Flags().StringVar(&endDate, "end", "", "Last trading day (YYYY-MM-DD, overrides config)")
	cmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory (overrides config)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve backtests over http",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dataset, err := data.LoadCSV(cfg.PricesPath, cfg.CalendarPath)
			if err != nil {
				return fmt.Errorf("failed to load dataset: %w", err)
			}
			handler := api.ApiHandler{
				Data:   dataset,
				Config: *cfg,
			}
			return handler.StartApi(cfg.ApiPort)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if pricesPath != "" {
		cfg.PricesPath = pricesPath
	}
	if startDate != "" {
		cfg.Start = startDate
	}
	if endDate != "" {
		cfg.End = endDate
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if cfg.PricesPath == "" {
		return nil, fmt.Errorf("no prices file given: set --prices or pricesPath in config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runBacktest(ctx context.Context, cfg *config.Config) error {
	log := logger.New()
	ctx = context.WithValue(ctx, logger.ContextKey, log)

	start, err := cfg.StartDate()
	if err != nil {
		return err
	}
	end, err := cfg.EndDate()
	if err != nil {
		return err
	}

	dataset, err := data.LoadCSV(cfg.PricesPath, cfg.CalendarPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	factorService := calculator.NewFactorService(dataset, cfg.Factors)
	strategy, err := service.NewStrategyFromConfig(*cfg, factorService.FactorNames())
	if err != nil {
		return err
	}

	handler := service.BacktestHandler{
		Data:          dataset,
		FactorService: factorService,
		Strategy:      strategy,
		Scheduler: service.Scheduler{
			TrainWindowDays:    cfg.TrainWindowDays,
			RetrainEveryDays:   cfg.RetrainEveryDays,
			RebalanceEveryDays: cfg.RebalanceEveryDays,
		},
	}

	result, err := handler.Run(ctx, service.BacktestInput{
		Start:               start,
		End:                 end,
		InitialCapital:      decimal.NewFromFloat(cfg.InitialCapital),
		TopN:                cfg.TopN,
		TransactionCostRate: decimal.NewFromFloat(cfg.TransactionCostRate),
		ForwardReturnDays:   cfg.ForwardReturnDays,
		MinTrainingRows:     cfg.MinTrainingRows,
	})
	if err != nil {
		return err
	}

	if err := data.WriteNavCSV(filepath.Join(cfg.OutputDir, "nav.csv"), result.Nav); err != nil {
		return err
	}
	for _, rebalance := range result.Rebalances {
		if rebalance.Skipped {
			continue
		}
		if err := data.WriteTargetHoldingsCSV(filepath.Join(cfg.OutputDir, "holdings"), rebalance.Date, rebalance.Holdings); err != nil {
			return err
		}
	}

	if result.Summary != nil {
		util.Pprint(result.Summary)
	}
	log.Infow("wrote backtest artifacts",
		"runId", result.RunID,
		"outputDir", cfg.OutputDir,
	)
	return nil
}
