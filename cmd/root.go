package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"savings-swap/config"
	"savings-swap/pkg/logging"
	"savings-swap/pkg/metrics"
	"savings-swap/pkg/swaperr"
)

var rootCmd = &cobra.Command{
	Use:   "savings-swap",
	Short: "A CLI for gasless token swaps that set aside savings on every trade",
	Long: `savings-swap quotes and executes single-pool swaps from an abstracted
account. A configurable share of every input is kept as savings by the pool
hook, and gas is sponsored according to the configured policy table.

Examples:
  savings-swap quote 1000 USDC to WETH save 10%
  savings-swap swap 1000 USDC to WETH save 10%
  savings-swap split 1000 USDC --save 10%
  savings-swap sponsor swap --gas 250000
  savings-swap tokens
  savings-swap status <operation-id>`,
	Version:           "0.1.0",
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9100)")
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	if err := logging.Setup(level, cfg.Log.Format); err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		metrics.Default()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped", "addr", addr, "err", err)
			}
		}()
		log.Info("Serving metrics", "addr", addr)
	}
	return nil
}

func printError(err error) {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	fmt.Print(errorText(err, verbose))
}

// errorText renders err for the terminal. Classified errors show their short
// message, followed by the raw relay or contract message in verbose mode.
func errorText(err error, verbose bool) string {
	var e *swaperr.Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("\n%s %v\n\n", color.RedString("Error:"), err)
	}
	log.Debug("Classified failure", "kind", e.Kind, "raw", e.Raw)

	msg := swaperr.UserMessage(err)
	text := fmt.Sprintf("\n%s %s\n", color.RedString("Error [%s]:", e.Kind), msg)
	if verbose && e.Raw != "" && e.Raw != msg {
		text += fmt.Sprintf("%s %s\n", color.HiBlackString("Details:"), e.Raw)
	}
	return text + "\n"
}
