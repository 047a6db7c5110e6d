package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"savings-swap/pkg/prices"
)

var (
	listAll      bool
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List the tokens listed on the configured network",
	Long: `List the tokens listed on the configured network with their USD prices. With
--all, show which of them the 1Click price index prices on the network's
blockchain and which fall back to the static price table.

Examples:
  savings-swap tokens
  savings-swap tokens --symbol USDC
  savings-swap tokens --all`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().BoolVar(&listAll, "all", false, "Show 1Click price index coverage of the listed tokens")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

type tokenRow struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Common   bool   `json:"common"`
	PriceUSD string `json:"price_usd,omitempty"`
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx := context.Background()
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching token prices..."
		s.Start()
	}

	if listAll {
		if a.index == nil {
			s.Stop()
			printError(fmt.Errorf("1Click JWT token not configured. Set SAVINGS_SWAP_ONECLICK_JWT_TOKEN or oneclick.jwt_token"))
			os.Exit(1)
		}
		coverage, unmatched, err := a.index.Coverage(ctx, a.tokens)
		if !jsonOutput {
			s.Stop()
		}
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		rows := coverageRows(coverage)
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(rows, "", "  ")
			fmt.Println(string(jsonData))
		} else {
			displayCoverage(rows, a.index.Blockchain(), unmatched)
		}
		return
	}

	src, err := a.priceSource()
	if err != nil {
		s.Stop()
		printError(err)
		os.Exit(1)
	}
	rows := make([]tokenRow, 0, len(a.tokens))
	for _, t := range a.tokens {
		if filterSymbol != "" && !strings.Contains(t.Symbol, strings.ToUpper(filterSymbol)) {
			continue
		}
		row := tokenRow{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals, Common: t.IsCommon}
		if t.IsNative() {
			row.Address = "native"
		}
		if price, err := src.USDPrice(ctx, t); err == nil {
			row.PriceUSD = price.StringFixed(4)
		}
		rows = append(rows, row)
	}
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(rows, a.cfg.Network)
	}
}

func displayTokens(rows []tokenRow, network string) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            LISTED TOKENS (%s)", strings.ToUpper(network))
	fmt.Println(strings.Repeat("=", 90))

	// common tokens first
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Common && !rows[j].Common })

	for _, r := range rows {
		price := color.HiBlackString("no price")
		if r.PriceUSD != "" {
			price = "$" + r.PriceUSD
		}
		fmt.Printf("  %-10s  %2d decimals  %-14s  %s\n",
			color.YellowString(r.Symbol),
			r.Decimals,
			price,
			color.HiBlackString(r.Address))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(rows))
}

type coverageRow struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address"`
	Listed      bool   `json:"listed"`
	IndexSymbol string `json:"index_symbol,omitempty"`
	PriceUSD    string `json:"price_usd,omitempty"`
}

func coverageRows(coverage []prices.Coverage) []coverageRow {
	rows := make([]coverageRow, 0, len(coverage))
	for _, c := range coverage {
		if filterSymbol != "" && !strings.Contains(c.Token.Symbol, strings.ToUpper(filterSymbol)) {
			continue
		}
		row := coverageRow{Symbol: c.Token.Symbol, Address: c.Token.Address.Hex(), Listed: c.Listed, IndexSymbol: c.IndexSymbol}
		if c.Token.IsNative() {
			row.Address = "native"
		}
		if c.Listed {
			row.PriceUSD = c.Price.StringFixed(4)
		}
		rows = append(rows, row)
	}
	return rows
}

func displayCoverage(rows []coverageRow, blockchain string, unmatched int) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                       1CLICK PRICE INDEX COVERAGE (%s)", strings.ToUpper(blockchain))
	fmt.Println(strings.Repeat("=", 90))

	// unpriced tokens first, they fall back to the static table
	sort.SliceStable(rows, func(i, j int) bool { return !rows[i].Listed && rows[j].Listed })

	listed := 0
	for _, r := range rows {
		status := color.RedString("NOT LISTED")
		price := color.HiBlackString("static fallback")
		if r.Listed {
			listed++
			status = color.GreenString("LISTED")
			price = "$" + r.PriceUSD
			if r.IndexSymbol != r.Symbol {
				price += color.HiBlackString(" as %s", r.IndexSymbol)
			}
		}
		fmt.Printf("  %-10s  %-12s  %-20s  %s\n",
			color.YellowString(r.Symbol),
			status,
			price,
			color.HiBlackString(r.Address))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nPriced by index: %d of %d listed tokens\n", listed, len(rows))
	fmt.Printf("Other index tokens on %s: %d\n\n", blockchain, unmatched)
}
