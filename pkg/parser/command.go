package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"savings-swap/pkg/types"
)

// Intent is a parsed swap command. Tokens are symbols or addresses and are
// resolved against the configured token list by the caller.
type Intent struct {
	Amount     string
	Input      string
	Output     string
	SavingsBps uint32
}

var (
	intentPattern  = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9.]+|0X[0-9A-F]{40})\s+(?:TO|FOR|->)\s+([A-Z0-9.]+|0X[0-9A-F]{40})(?:\s+(.*))?$`)
	savingsPattern = regexp.MustCompile(`^(?:SAVE|SAVING|KEEP)\s+(\d+\.?\d*)\s*(%|BPS)$`)
)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1000 USDC to WETH"
//   - "1000 USDC to WETH save 10%"
//   - "swap 0.5 ETH for USDC keep 250 bps"
func ParseSwapCommand(command string) (*Intent, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	matches := intentPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token> [save <pct>%%]' (e.g., 'swap 1000 USDC to WETH save 10%%')")
	}

	intent := &Intent{
		Amount: matches[1],
		Input:  NormalizeTokenSymbol(matches[2]),
		Output: NormalizeTokenSymbol(matches[3]),
	}
	if matches[4] != "" {
		bps, err := ParseSavings(matches[4])
		if err != nil {
			return nil, err
		}
		intent.SavingsBps = bps
	}
	return intent, nil
}

// ParseSavings reads a savings clause ("save 10%", "keep 250 bps") into basis
// points. Percentages may carry at most two decimal places.
func ParseSavings(clause string) (uint32, error) {
	matches := savingsPattern.FindStringSubmatch(strings.TrimSpace(strings.ToUpper(clause)))
	if matches == nil {
		return 0, fmt.Errorf("invalid savings clause %q. Expected 'save <pct>%%' or 'save <n> bps'", clause)
	}
	value, err := decimal.NewFromString(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid savings value: %s", matches[1])
	}
	if matches[2] == "%" {
		value = value.Shift(2)
	}
	if !value.Equal(value.Truncate(0)) {
		return 0, fmt.Errorf("savings %s is finer than one basis point", clause)
	}
	if value.GreaterThan(decimal.NewFromInt(types.BasisPoints)) {
		return 0, fmt.Errorf("savings cannot exceed 100%%")
	}
	return uint32(value.IntPart()), nil
}

// ValidateIntent validates that an intent has all required fields
func ValidateIntent(intent *Intent) error {
	if intent.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if intent.Input == "" {
		return fmt.Errorf("source token is required")
	}
	if intent.Output == "" {
		return fmt.Errorf("destination token is required")
	}
	if strings.EqualFold(intent.Input, intent.Output) {
		return fmt.Errorf("source and destination token are the same")
	}
	if intent.SavingsBps > types.BasisPoints {
		return fmt.Errorf("savings cannot exceed 100%%")
	}
	return nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format. Hex
// addresses are returned in checksum form.
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if strings.HasPrefix(strings.ToLower(symbol), "0x") && len(symbol) == 42 {
		return "0x" + strings.ToLower(symbol[2:])
	}
	symbol = strings.ToUpper(symbol)

	aliases := map[string]string{
		"ETHER":  "ETH",
		"USDC.E": "USDC",
		"USDBC":  "USDC",
		"WETH9":  "WETH",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
