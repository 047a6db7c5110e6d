package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"savings-swap/pkg/parser"
	"savings-swap/pkg/savings"
	"savings-swap/pkg/types"
)

var splitSavings string

var splitCmd = &cobra.Command{
	Use:   "split <amount> <token> [save <pct>%]",
	Short: "Show how an input is divided between savings and swap",
	Long: `Show the savings and swap portions of an input amount. No network access is
needed.

Examples:
  savings-swap split 1000 USDC save 10%
  savings-swap split 0.5 ETH --save 250bps`,
	Args: cobra.MinimumNArgs(2),
	Run:  runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringVar(&splitSavings, "save", "", "Savings percentage (e.g. 10%) or bps (e.g. 250bps)")
}

func runSplit(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	token, err := a.token(parser.NormalizeTokenSymbol(args[1]))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	amount, err := types.ParseUnits(args[0], token.Decimals)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	clause := splitSavings
	if len(args) > 2 {
		clause = strings.Join(args[2:], " ")
	} else if clause != "" {
		clause = "save " + clause
	}
	var bps uint32
	if clause != "" {
		if bps, err = parser.ParseSavings(clause); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	split := savings.Split(amount, bps)

	if jsonOutput {
		output := map[string]interface{}{
			"token":          token.Symbol,
			"input_amount":   types.FormatUnits(amount, token.Decimals),
			"savings_bps":    bps,
			"savings_amount": types.FormatUnits(split.SavingsAmount, token.Decimals),
			"swap_amount":    types.FormatUnits(split.SwapAmount, token.Decimals),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    SAVINGS SPLIT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Input:             %s %s\n", types.FormatUnits(amount, token.Decimals), color.YellowString(token.Symbol))
	fmt.Printf("  Savings Rate:      %s\n", formatBps(bps))
	fmt.Printf("  Saved:             %s %s\n", color.GreenString(types.FormatUnits(split.SavingsAmount, token.Decimals)), color.YellowString(token.Symbol))
	fmt.Printf("  Swapped:           %s %s\n", types.FormatUnits(split.SwapAmount, token.Decimals), color.YellowString(token.Symbol))
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
