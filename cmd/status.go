package cmd

import (
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

	"savings-swap/pkg/relay"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <operation-id>",
	Short: "Check the status of a relayed operation",
	Long: `Check whether a relayed operation has been included on chain by its
operation id. Use this after a confirmation timeout: the operation may still
settle after the CLI stopped waiting.

Examples:
  savings-swap status 0x1234...abcd
  savings-swap status 0x1234...abcd --watch
  savings-swap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch until the operation is included")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	operationID := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := a.dialRelay(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}

	if watchStatus {
		watchOperation(ctx, a.bundler, operationID, jsonOutput)
	} else {
		checkOperation(ctx, a.bundler, operationID, jsonOutput)
	}
}

func checkOperation(ctx context.Context, r relay.Relay, operationID string, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking operation status..."
		s.Start()
	}

	receipt, err := r.Receipt(ctx, operationID)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		output := map[string]interface{}{
			"operation_id": operationID,
			"status":       receiptStatus(receipt),
		}
		if receipt != nil {
			output["receipt"] = receipt
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(receipt, operationID)
	}
}

func watchOperation(ctx context.Context, r relay.Relay, operationID string, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching operation %s\n", color.CyanString(operationID))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := r.Receipt(ctx, operationID)
		switch {
		case err != nil:
			color.Red("Error: %v", err)
		case receipt != nil:
			displayStatus(receipt, operationID)
			return
		default:
			fmt.Printf("  %s  %s\n", time.Now().Format("15:04:05"), getColoredStatus("PENDING"))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func receiptStatus(receipt *relay.Receipt) string {
	switch {
	case receipt == nil:
		return "PENDING"
	case receipt.Success:
		return "SUCCESS"
	default:
		return "FAILED"
	}
}

func displayStatus(receipt *relay.Receipt, operationID string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                      OPERATION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Operation:       %s\n", color.CyanString(operationID))
	fmt.Printf("  Status:          %s\n", getColoredStatus(receiptStatus(receipt)))

	if receipt != nil {
		if receipt.TxHash != nil {
			fmt.Printf("  Transaction:     %s\n", color.HiBlackString(receipt.TxHash.Hex()))
		} else {
			fmt.Printf("  Transaction:     %s\n", color.HiBlackString("not reported by the bundler"))
		}
		if receipt.BlockNumber > 0 {
			fmt.Printf("  Block:           %d\n", receipt.BlockNumber)
		}
		if !receipt.Success && receipt.Reason != "" {
			fmt.Printf("  Reason:          %s\n", color.RedString(receipt.Reason))
		}
	} else {
		fmt.Println("\n  The bundler has not included this operation yet.")
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "SUCCESS":
		return color.GreenString(status)
	case "PENDING":
		return color.YellowString(status)
	case "FAILED":
		return color.RedString(status)
	default:
		return status
	}
}
