// Package cli implements the sentio command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/irfndi/sentio-go/internal/app"
	"github.com/irfndi/sentio-go/internal/backtest"
	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/logging"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/notification"
	"github.com/irfndi/sentio-go/internal/strategies"
)

// Loader returns the configuration commands run with
type Loader func() (*config.Config, error)

// NewRootCmd creates the root command using config.Load.
func NewRootCmd() *cobra.Command {
	return newRootCmd(config.Load)
}

func newRootCmd(load Loader) *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "sentio",
		Short: "Sentio - multi-strategy trading engine",
		Long: `Sentio runs a set of trading strategies on market data, combines their
signals by weighted voting and sizes trades through a risk manager with a
daily-loss circuit breaker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				loaded.LogLevel = level
			}
			cfg = loaded
			return nil
		},
	}

	current := func() *config.Config { return cfg }

	rootCmd.AddCommand(newAnalyzeCmd(current))
	rootCmd.AddCommand(newBacktestCmd(current))
	rootCmd.AddCommand(newPaperCmd(current))
	rootCmd.AddCommand(newAPICmd(current))
	rootCmd.AddCommand(newStrategiesCmd())
	rootCmd.AddCommand(newConfigCmd(current))
	rootCmd.AddCommand(newTokenCmd(current))

	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// csvOption loads candles from path into a static provider.
func csvOption(path, symbol string) (app.Option, error) {
	candles, err := marketdata.LoadCandlesCSV(path, strings.ToUpper(symbol))
	if err != nil {
		return nil, err
	}
	provider := marketdata.NewStaticProvider()
	provider.SetCandles(symbol, candles)
	return app.WithProvider(provider), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Run every strategy on a symbol and print the vote",
		Long: `Fetch candles for SYMBOL, run each configured strategy and print the
voting result. Example: sentio analyze AAPL --csv data/aapl.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			csvPath, _ := cmd.Flags().GetString("csv")

			var opts []app.Option
			if csvPath != "" {
				opt, err := csvOption(csvPath, symbol)
				if err != nil {
					return err
				}
				opts = append(opts, opt)
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg(), opts...)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			analysis, err := a.Engine.AnalyzeSymbol(ctx, symbol)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), analysis)
		},
	}
	cmd.Flags().String("csv", "", "Read candles from a CSV file instead of the market-data service")
	return cmd
}

func newBacktestCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest SYMBOL",
		Short: "Replay historical candles through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			csvPath, _ := cmd.Flags().GetString("csv")
			capital, _ := cmd.Flags().GetFloat64("capital")
			warmup, _ := cmd.Flags().GetInt("warmup")
			asJSON, _ := cmd.Flags().GetBool("json")

			candles, err := marketdata.LoadCandlesCSV(csvPath, symbol)
			if err != nil {
				return err
			}

			c := cfg()
			btCfg := backtest.Config{
				InitialCapital: c.Engine.InitialCapital,
				Warmup:         warmup,
				Risk:           c.Risk,
				Voting:         c.Voting,
				Engine:         c.Engine,
			}
			if capital > 0 {
				btCfg.InitialCapital = capital
			}

			logger := logging.NewLogger(c.LogLevel, c.Environment)
			result, err := backtest.NewBacktester(strategies.Default(), logger).Run(cmd.Context(), symbol, candles, btCfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printBacktest(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().String("csv", "", "CSV file with timestamp,open,high,low,close,volume rows")
	cmd.Flags().Float64("capital", 0, "Starting capital (defaults to engine.initial_capital)")
	cmd.Flags().Int("warmup", 0, "Bars before the first decision (defaults to the largest strategy minimum)")
	cmd.Flags().Bool("json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func printBacktest(w io.Writer, r *backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Symbol\t%s\n", r.Symbol)
	fmt.Fprintf(tw, "Period\t%s - %s (%d bars)\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Bars)
	fmt.Fprintf(tw, "Starting capital\t%.2f\n", r.StartingCapital)
	fmt.Fprintf(tw, "Final value\t%.2f\n", r.FinalValue)
	fmt.Fprintf(tw, "Total return\t%.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(tw, "Trades\t%d\n", r.TotalTrades)
	fmt.Fprintf(tw, "Win rate\t%.2f%%\n", r.WinRate*100)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(tw, "Sharpe (per bar)\t%.3f\n", r.SharpeRatio)
	return tw.Flush()
}

func newPaperCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Run the paper trading loop on the configured symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			symbols, _ := cmd.Flags().GetStringSlice("symbols")
			interval, _ := cmd.Flags().GetDuration("interval")
			serve, _ := cmd.Flags().GetBool("serve")
			if len(symbols) == 0 {
				symbols = c.MarketData.Symbols
			}
			if len(symbols) == 0 {
				return errors.New("no symbols configured, pass --symbols or set market_data.symbols")
			}
			c.Engine.Mode = "PAPER"

			ctx, stop := signalContext()
			defer stop()

			a, err := app.New(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if serve {
				go func() {
					if err := a.Serve(ctx); err != nil {
						a.Logger.WithError(err).Error("API server stopped")
						stop()
					}
				}()
			}

			if err := a.Engine.Run(ctx, symbols, interval); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.Engine.GetPortfolioMetrics())
		},
	}
	cmd.Flags().StringSlice("symbols", nil, "Symbols to trade (defaults to market_data.symbols)")
	cmd.Flags().Duration("interval", 0, "Cycle interval (defaults to engine.cycle_interval)")
	cmd.Flags().Bool("serve", false, "Also serve the HTTP API")
	return cmd
}

func newAPICmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := app.New(ctx, cfg())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return a.Serve(ctx)
		},
	}
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tMIN CANDLES")
			for _, s := range strategies.Default().All() {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Name(), notification.StrategyLabel(s.Name()), s.MinCandles())
			}
			return tw.Flush()
		},
	}
}

func newConfigCmd(cfg func() *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg()
			c.Database.Password = mask(c.Database.Password)
			c.Database.DatabaseURL = mask(c.Database.DatabaseURL)
			c.Redis.Password = mask(c.Redis.Password)
			c.Telegram.BotToken = mask(c.Telegram.BotToken)
			return writeJSON(cmd.OutOrStdout(), c)
		},
	})

	return configCmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func newTokenCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if c.Security.JWTSecret == "" {
				return errors.New("security.jwt_secret is not configured")
			}
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if role != middleware.RoleOperator && role != middleware.RoleAdmin {
				return fmt.Errorf("role must be %q or %q", middleware.RoleOperator, middleware.RoleAdmin)
			}
			if ttl <= 0 {
				ttl, _ = time.ParseDuration(c.Security.JWTExpiry)
			}
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}

			token, err := middleware.NewAuthMiddleware(c.Security.JWTSecret).GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "Token subject")
	cmd.Flags().String("role", middleware.RoleOperator, "Token role (operator or admin)")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to security.jwt_expiry)")
	return cmd
}
