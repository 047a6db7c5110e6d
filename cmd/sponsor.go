package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/types"
)

var (
	sponsorGas     uint64
	sponsorAccount string
)

var sponsorCmd = &cobra.Command{
	Use:   "sponsor <operation-kind>",
	Short: "Show who would pay gas for an operation",
	Long: `Evaluate the configured sponsorship policies for an operation kind and show
how a gas estimate would be divided between the sponsor and the user. Account
facts (balance, staked balance, deployment) are read from chain.

Operation kinds: first-time-setup, approve, swap, batch, withdraw-savings

Examples:
  savings-swap sponsor swap
  savings-swap sponsor approve --gas 80000
  savings-swap sponsor swap --account 0x1234...abcd`,
	Args: cobra.ExactArgs(1),
	Run:  runSponsor,
}

func init() {
	rootCmd.AddCommand(sponsorCmd)

	sponsorCmd.Flags().Uint64Var(&sponsorGas, "gas", 200000, "Gas estimate to divide")
	sponsorCmd.Flags().StringVar(&sponsorAccount, "account", "", "Account to evaluate (defaults to the configured smart account)")
}

func runSponsor(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	kind := sponsor.OperationKind(strings.ReplaceAll(strings.ToLower(args[0]), "_", "-"))

	a, err := loadApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	account := a.account.Sender
	if sponsorAccount != "" {
		if !common.IsHexAddress(sponsorAccount) {
			printError(fmt.Errorf("invalid account address %q", sponsorAccount))
			os.Exit(1)
		}
		account = common.HexToAddress(sponsorAccount)
	}
	if account == (common.Address{}) {
		printError(fmt.Errorf("no account given and smart_account is not configured"))
		os.Exit(1)
	}

	ctx := context.Background()
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading account facts..."
		s.Start()
	}
	var facts *sponsor.Facts
	err = a.connect(ctx)
	if err == nil {
		facts, err = a.facts.Facts(ctx, account)
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	decision := a.sponsor.Resolve(facts, kind, new(big.Int).SetUint64(sponsorGas))

	if jsonOutput {
		output := map[string]interface{}{
			"account":  account.Hex(),
			"kind":     kind,
			"gas":      sponsorGas,
			"deployed": facts.Deployed,
			"decision": decision,
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displaySponsorship(account, kind, facts, decision, a.sponsor.Policies())
}

func displaySponsorship(account common.Address, kind sponsor.OperationKind, facts *sponsor.Facts, decision *types.SponsorshipDecision, policies []sponsor.Policy) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                  GAS SPONSORSHIP")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Account:           %s\n", color.CyanString(account.Hex()))
	fmt.Printf("  Deployed:          %t\n", facts.Deployed)
	fmt.Printf("  Native Balance:    %s\n", types.FormatUnits(facts.Balance, 18))
	if facts.Staked != nil && facts.Staked.Sign() > 0 {
		fmt.Printf("  Staked:            %s\n", facts.Staked)
	}
	fmt.Printf("  Operation:         %s\n", kind)
	fmt.Printf("  Mode:              %s\n", coloredMode(decision.Mode))
	if decision.Policy != "" {
		fmt.Printf("  Policy:            %s\n", decision.Policy)
	}
	fmt.Printf("  Sponsor Pays:      %s gas\n", decision.SponsorPaysAmount)
	fmt.Printf("  User Pays:         %s gas\n", decision.UserPaysAmount)

	if len(policies) > 0 {
		color.Cyan("\n  Policies (in evaluation order)")
		fmt.Println("  " + strings.Repeat("-", 56))
		for _, p := range policies {
			kinds := make([]string, 0, len(p.Kinds))
			for _, k := range p.Kinds {
				kinds = append(kinds, string(k))
			}
			fmt.Printf("  %-16s ratio %-5s %s\n", p.Name, p.Ratio.String(), color.HiBlackString(strings.Join(kinds, ", ")))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func coloredMode(mode types.SponsorshipMode) string {
	switch mode {
	case types.SponsorshipSponsored:
		return color.GreenString(string(mode))
	case types.SponsorshipPartial:
		return color.YellowString(string(mode))
	default:
		return color.RedString(string(mode))
	}
}
