package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"savings-swap/pkg/quote"
	"savings-swap/pkg/swap"
	"savings-swap/pkg/types"
)

var (
	swapSavings string
	noConfirm   bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token> [save <pct>%]",
	Short: "Swap tokens and set aside savings",
	Long: `Swap tokens from the configured abstracted account. The savings share of the
input is kept by the pool hook, the rest is swapped. The input token is approved
first when the router's allowance is too low, and gas is sponsored according to
the configured policies.

IMPORTANT:
  - owner_key and smart_account must be configured
  - the network needs a bundler_url (and a paymaster_url for sponsorship)

Examples:
  savings-swap swap 1000 USDC to WETH
  savings-swap swap 1000 USDC to WETH save 10%
  savings-swap swap 0.5 ETH to USDC --save 250bps --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapSavings, "save", "", "Savings percentage (e.g. 10%) or bps (e.g. 250bps)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	req, err := a.resolveIntent(args, swapSavings)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if req.amount.Sign() == 0 {
		printError(fmt.Errorf("amount must be greater than zero"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	agg, err := a.aggregator(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// the refresher keeps the previewed quote fresh while the user confirms;
	// the controller reuses it when it is still fresh at build time
	refresher := quote.NewRefresher(agg, a.cfg.Quote.RefreshInterval, time.Millisecond, nil)
	if err := refresher.Start(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
	defer refresher.Stop()
	refresher.Update(quote.Request{Input: req.input, Output: req.output, Amount: req.amount, SavingsBps: req.savingsBps})

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	preview, err := awaitQuote(ctx, refresher, 30*time.Second)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayQuote(preview, req)
		if before, err := a.balances.Get(ctx, a.account.Sender, req.input); err == nil {
			fmt.Printf("  Balance:           %s %s\n", types.FormatUnits(before, req.input.Decimals), req.input.Symbol)
		}
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
	}

	onStatus := func(e swap.Execution) {
		if jsonOutput {
			return
		}
		s.Lock()
		s.Suffix = " " + statusText(e.Status)
		s.Unlock()
		if verbose {
			fmt.Printf("\n  [%s] %s\n", e.ID, e.Status)
		}
	}
	controller, err := a.controller(ctx, agg, refresher, onStatus)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		s.Suffix = " " + statusText(types.StatusCheckingApproval)
		s.Start()
	}
	exec, err := controller.ExecuteSwap(ctx, swap.Params{
		Input:      req.input,
		Output:     req.output,
		Amount:     req.amount,
		SavingsBps: req.savingsBps,
	})
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		output := map[string]interface{}{
			"execution": exec,
			"status":    exec.Status,
		}
		if err != nil {
			output["error"] = err.Error()
			output["error_kind"] = exec.ErrorKind()
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err != nil {
		printError(err)
		if exec.Operation != nil && exec.Operation.OperationID != "" {
			fmt.Println("The operation was submitted. You can check it using:")
			color.Cyan("  savings-swap status %s\n", exec.Operation.OperationID)
		}
		os.Exit(1)
	}

	displayExecution(exec, req)
	if after, err := a.balances.Get(ctx, a.account.Sender, req.output); err == nil {
		fmt.Printf("  %s balance: %s\n\n", req.output.Symbol, types.FormatUnits(after, req.output.Decimals))
	}
}

// awaitQuote waits for the refresher's first quote
func awaitQuote(ctx context.Context, r *quote.Refresher, timeout time.Duration) (*types.SwapQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q := r.Latest(); q != nil {
			return q, nil
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no quote received: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func statusText(status types.ExecutionStatus) string {
	switch status {
	case types.StatusCheckingApproval:
		return "Checking allowance..."
	case types.StatusApproving:
		return "Approving input token..."
	case types.StatusBuilding:
		return "Building swap..."
	case types.StatusExecuting:
		return "Submitting operation..."
	case types.StatusConfirming:
		return "Waiting for confirmation..."
	default:
		return string(status)
	}
}

func displayExecution(exec swap.Execution, req *request) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP COMPLETE")
	fmt.Println(strings.Repeat("=", 60))

	if exec.Approval != nil {
		fmt.Printf("\n  Approval:          %s\n", color.HiBlackString(exec.Approval.CanonicalID()))
	} else {
		fmt.Println()
	}
	fmt.Printf("  Operation:         %s\n", color.CyanString(exec.Operation.OperationID))
	if exec.Operation.HasSettlement() {
		fmt.Printf("  Transaction:       %s\n", color.CyanString(exec.Operation.SettlementTxID.Hex()))
		fmt.Printf("  Block:             %d\n", exec.Operation.BlockNumber)
	}
	if exec.Split.SavingsAmount != nil && exec.Split.SavingsAmount.Sign() > 0 {
		fmt.Printf("  Saved:             %s %s\n", types.FormatUnits(exec.Split.SavingsAmount, req.input.Decimals), color.YellowString(req.input.Symbol))
	}
	if exec.Quote != nil {
		fmt.Printf("  Expected Output:   ~%s %s\n", types.FormatUnits(exec.Quote.OutputAmount, req.output.Decimals), color.YellowString(req.output.Symbol))
	}
	fmt.Printf("  Duration:          %s\n", exec.FinishedAt.Sub(exec.StartedAt).Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
