package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"savings-swap/pkg/quote"
	"savings-swap/pkg/savings"
	"savings-swap/pkg/types"
)

var (
	quoteSavings string
	watchQuote   bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token> [save <pct>%]",
	Short: "Quote a swap without executing it",
	Long: `Quote a swap on the configured network. The pool is probed at every fee tier
with the swap portion of the input (input minus savings); when no pool answers,
an estimate is derived from USD prices.

Examples:
  savings-swap quote 1000 USDC to WETH
  savings-swap quote 1000 USDC to WETH save 10%
  savings-swap quote 0.5 ETH to USDC --save 2.5% --watch`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteSavings, "save", "", "Savings percentage (e.g. 10%) or bps (e.g. 250bps)")
	quoteCmd.Flags().BoolVarP(&watchQuote, "watch", "w", false, "Keep refreshing the quote until interrupted")
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	req, err := a.resolveIntent(args, quoteSavings)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	agg, err := a.aggregator(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if watchQuote {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			os.Exit(1)
		}
		watchQuotes(ctx, agg, req, a.cfg.Quote.RefreshInterval, a.cfg.Quote.Debounce)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	q, err := agg.GetQuote(ctx, req.input, req.output, req.amount, req.savingsBps)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if q == nil {
		printError(fmt.Errorf("amount must be greater than zero"))
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(quoteOutput(q, req), "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayQuote(q, req)
	}
}

func watchQuotes(ctx context.Context, agg *quote.Aggregator, req *request, interval, debounce time.Duration) {
	fmt.Printf("\nWatching %s -> %s. Refreshing every %s. Press Ctrl+C to stop.\n",
		color.YellowString(req.input.Symbol), color.YellowString(req.output.Symbol), interval)

	refresher := quote.NewRefresher(agg, interval, debounce, func(q *types.SwapQuote) {
		displayQuote(q, req)
	})
	if err := refresher.Start(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
	defer refresher.Stop()

	refresher.Update(quote.Request{Input: req.input, Output: req.output, Amount: req.amount, SavingsBps: req.savingsBps})
	<-ctx.Done()
	fmt.Println("\nStopped.")
}

func quoteOutput(q *types.SwapQuote, req *request) map[string]interface{} {
	split := savings.Split(req.amount, req.savingsBps)
	return map[string]interface{}{
		"input_token":      req.input.Symbol,
		"output_token":     req.output.Symbol,
		"input_amount":     types.FormatUnits(q.InputAmount, req.input.Decimals),
		"savings_amount":   types.FormatUnits(split.SavingsAmount, req.input.Decimals),
		"swap_amount":      types.FormatUnits(split.SwapAmount, req.input.Decimals),
		"output_amount":    types.FormatUnits(q.OutputAmount, req.output.Decimals),
		"min_output":       types.FormatUnits(q.MinOutputAmount, req.output.Decimals),
		"price_impact_bps": q.PriceImpactBps,
		"fee_tier_bps":     q.FeeTierBps,
		"gas_estimate":     q.GasEstimate.String(),
		"source":           q.Source,
		"quoted_at":        q.QuotedAt,
	}
}

func displayQuote(q *types.SwapQuote, req *request) {
	split := savings.Split(req.amount, req.savingsBps)

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", types.FormatUnits(q.InputAmount, req.input.Decimals), color.YellowString(req.input.Symbol))
	if req.savingsBps > 0 {
		fmt.Printf("  Saved:             %s %s (%s)\n", types.FormatUnits(split.SavingsAmount, req.input.Decimals),
			color.YellowString(req.input.Symbol), formatBps(req.savingsBps))
		fmt.Printf("  Swapped:           %s %s\n", types.FormatUnits(split.SwapAmount, req.input.Decimals), color.YellowString(req.input.Symbol))
	}
	fmt.Printf("  To:                ~%s %s\n", types.FormatUnits(q.OutputAmount, req.output.Decimals), color.YellowString(req.output.Symbol))
	fmt.Printf("  Minimum Received:  %s %s\n", types.FormatUnits(q.MinOutputAmount, req.output.Decimals), color.YellowString(req.output.Symbol))
	fmt.Printf("  Price Impact:      %s\n", coloredImpact(q.PriceImpactBps))
	fmt.Printf("  Pool Fee:          %s\n", formatBps(q.FeeTierBps))
	fmt.Printf("  Gas Estimate:      %s\n", q.GasEstimate)
	if q.Source == types.QuoteSourceFallback {
		fmt.Printf("  Source:            %s\n", color.MagentaString("estimate (no pool answered)"))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func formatBps(bps uint32) string {
	return fmt.Sprintf("%s%%", types.FormatUnits(new(big.Int).SetUint64(uint64(bps)), 2))
}

func coloredImpact(bps int64) string {
	text := formatBps(uint32(bps))
	switch {
	case bps >= 500:
		return color.RedString(text)
	case bps >= 100:
		return color.YellowString(text)
	default:
		return color.GreenString(text)
	}
}
