package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"savings-swap/pkg/pool"
	"savings-swap/pkg/relay"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Network      string                   `mapstructure:"network"`
	Networks     map[string]NetworkConfig `mapstructure:"networks"`
	OwnerKey     string                   `mapstructure:"owner_key"`
	SmartAccount string                   `mapstructure:"smart_account"`
	AccountSalt  uint64                   `mapstructure:"account_salt"`
	OneClick     OneClickConfig           `mapstructure:"oneclick"`
	Prices       PricesConfig             `mapstructure:"prices"`
	Quote        QuoteConfig              `mapstructure:"quote"`
	Execution    ExecutionConfig          `mapstructure:"execution"`
	Sponsorship  SponsorshipConfig        `mapstructure:"sponsorship"`
	Log          LogConfig                `mapstructure:"log"`
}

// NetworkConfig holds the endpoints and contract addresses of one network.
// It is read once at startup.
type NetworkConfig struct {
	ChainID        uint64        `mapstructure:"chain_id"`
	RPCURL         string        `mapstructure:"rpc_url"`
	BundlerURL     string        `mapstructure:"bundler_url"`
	PaymasterURL   string        `mapstructure:"paymaster_url"`
	Router         string        `mapstructure:"router"`
	Quoter         string        `mapstructure:"quoter"`
	Hook           string        `mapstructure:"hook"`
	EntryPoint     string        `mapstructure:"entry_point"`
	AccountFactory string        `mapstructure:"account_factory"`
	StakingToken   string        `mapstructure:"staking_token"`
	Tokens         []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig is one listed token
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
	Common   bool   `mapstructure:"common"`
}

// OneClickConfig configures the 1Click token list used as a price index
type OneClickConfig struct {
	JWTToken   string        `mapstructure:"jwt_token"`
	BaseURL    string        `mapstructure:"base_url"`
	Blockchain string        `mapstructure:"blockchain"`
	PriceTTL   time.Duration `mapstructure:"price_ttl"`
}

// PricesConfig holds the static USD fallback table (token address -> price)
type PricesConfig struct {
	Static map[string]string `mapstructure:"static"`
}

// QuoteConfig holds the quoting tunables
type QuoteConfig struct {
	SlippageBps     uint32         `mapstructure:"slippage_bps"`
	RefreshInterval time.Duration  `mapstructure:"refresh_interval"`
	Debounce        time.Duration  `mapstructure:"debounce"`
	StaleAfter      time.Duration  `mapstructure:"stale_after"`
	FallbackFeeBps  uint32         `mapstructure:"fallback_fee_bps"`
	FallbackGas     uint64         `mapstructure:"fallback_gas"`
	FeeTiers        []pool.FeeTier `mapstructure:"fee_tiers"`
}

// ExecutionConfig holds the execution timing tunables
type ExecutionConfig struct {
	ApprovalWait      time.Duration `mapstructure:"approval_wait"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	InvalidationDelay time.Duration `mapstructure:"invalidation_delay"`
}

// SponsorshipConfig is the ordered sponsorship policy table
type SponsorshipConfig struct {
	Policies []PolicyConfig `mapstructure:"policies"`
}

// PolicyConfig is one sponsorship policy. Amounts are base-unit integers.
type PolicyConfig struct {
	Name          string        `mapstructure:"name"`
	Priority      int           `mapstructure:"priority"`
	Kinds         []string      `mapstructure:"kinds"`
	Ratio         float64       `mapstructure:"ratio"`
	MinBalance    string        `mapstructure:"min_balance"`
	MinStaked     string        `mapstructure:"min_staked"`
	MinAccountAge time.Duration `mapstructure:"min_account_age"`
	FirstTimeOnly bool          `mapstructure:"first_time_only"`
}

// LogConfig selects the log level and handler format
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Contracts are the parsed addresses of the active network
type Contracts struct {
	Router         common.Address
	Quoter         common.Address
	Hook           common.Address
	EntryPoint     common.Address
	AccountFactory common.Address
	StakingToken   common.Address
}

var globalConfig *Config

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("network", "base")
	v.SetDefault("owner_key", "")
	v.SetDefault("smart_account", "")
	v.SetDefault("account_salt", 0)

	v.SetDefault("oneclick.jwt_token", "")
	v.SetDefault("oneclick.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("oneclick.blockchain", "base")
	v.SetDefault("oneclick.price_ttl", time.Minute)

	v.SetDefault("quote.slippage_bps", 50)
	v.SetDefault("quote.refresh_interval", 10*time.Second)
	v.SetDefault("quote.debounce", 500*time.Millisecond)
	v.SetDefault("quote.stale_after", 30*time.Second)
	v.SetDefault("quote.fallback_fee_bps", 30)
	v.SetDefault("quote.fallback_gas", 200000)

	v.SetDefault("execution.approval_wait", 3*time.Second)
	v.SetDefault("execution.confirm_timeout", 60*time.Second)
	v.SetDefault("execution.poll_interval", 2*time.Second)
	v.SetDefault("execution.invalidation_delay", 3*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "terminal")
}

// BindEnv reads SAVINGS_SWAP_* variables; SAVINGS_SWAP_QUOTE_SLIPPAGE_BPS
// overrides quote.slippage_bps
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SAVINGS_SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName(".savings-swap")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	SetDefaults(v)
	BindEnv(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Decode builds a Config from v and validates it
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if len(cfg.Quote.FeeTiers) == 0 {
		cfg.Quote.FeeTiers = pool.DefaultFeeTiers
	}
	if cfg.Quote.SlippageBps > types.BasisPoints {
		return nil, fmt.Errorf("quote.slippage_bps %d exceeds %d", cfg.Quote.SlippageBps, types.BasisPoints)
	}
	if cfg.Quote.FallbackFeeBps > types.BasisPoints {
		return nil, fmt.Errorf("quote.fallback_fee_bps %d exceeds %d", cfg.Quote.FallbackFeeBps, types.BasisPoints)
	}
	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}

// ActiveNetwork returns the entry selected by the network key
func (c *Config) ActiveNetwork() (*NetworkConfig, error) {
	n, ok := c.Networks[strings.ToLower(c.Network)]
	if !ok {
		names := make([]string, 0, len(c.Networks))
		for name := range c.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("network %q not configured (available: %s)", c.Network, strings.Join(names, ", "))
	}
	if n.ChainID == 0 {
		return nil, fmt.Errorf("network %q: chain_id is required", c.Network)
	}
	return &n, nil
}

// Contracts parses the network's contract addresses. Router, quoter, hook and
// entry point are required.
func (n *NetworkConfig) Contracts() (*Contracts, error) {
	var (
		out Contracts
		err error
	)
	for _, f := range []struct {
		name     string
		value    string
		required bool
		dst      *common.Address
	}{
		{"router", n.Router, true, &out.Router},
		{"quoter", n.Quoter, true, &out.Quoter},
		{"hook", n.Hook, true, &out.Hook},
		{"entry_point", n.EntryPoint, true, &out.EntryPoint},
		{"account_factory", n.AccountFactory, false, &out.AccountFactory},
		{"staking_token", n.StakingToken, false, &out.StakingToken},
	} {
		if *f.dst, err = parseAddress(f.name, f.value, f.required); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// TokenList returns the listed tokens. The native asset uses the zero address.
func (n *NetworkConfig) TokenList() ([]types.Token, error) {
	tokens := make([]types.Token, 0, len(n.Tokens))
	seen := make(map[common.Address]bool, len(n.Tokens))
	for _, t := range n.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("token %q: symbol is required", t.Address)
		}
		addr := types.NativeAddress
		if t.Address != "" {
			if !common.IsHexAddress(t.Address) {
				return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
			}
			addr = common.HexToAddress(t.Address)
		}
		if seen[addr] {
			return nil, fmt.Errorf("token %s: duplicate address %s", t.Symbol, addr.Hex())
		}
		seen[addr] = true
		tokens = append(tokens, types.Token{
			Address:  addr,
			Symbol:   strings.ToUpper(t.Symbol),
			Decimals: t.Decimals,
			IsCommon: t.Common,
		})
	}
	return tokens, nil
}

// SponsorPolicies converts the configured policy table
func (c *Config) SponsorPolicies() ([]sponsor.Policy, error) {
	policies := make([]sponsor.Policy, 0, len(c.Sponsorship.Policies))
	for _, p := range c.Sponsorship.Policies {
		minBalance, err := parseAmount(p.Name, "min_balance", p.MinBalance)
		if err != nil {
			return nil, err
		}
		minStaked, err := parseAmount(p.Name, "min_staked", p.MinStaked)
		if err != nil {
			return nil, err
		}
		kinds := make([]sponsor.OperationKind, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			// first_time_setup and first-time-setup are the same kind
			kinds = append(kinds, sponsor.OperationKind(strings.ReplaceAll(strings.ToLower(k), "_", "-")))
		}
		policies = append(policies, sponsor.Policy{
			Name:          p.Name,
			Priority:      p.Priority,
			Kinds:         kinds,
			Ratio:         decimal.NewFromFloat(p.Ratio),
			MinBalance:    minBalance,
			MinStaked:     minStaked,
			MinAccountAge: p.MinAccountAge,
			FirstTimeOnly: p.FirstTimeOnly,
		})
	}
	return policies, nil
}

// Account builds the abstracted account identity for the active network. An
// empty owner key yields an account that is not ready.
func (c *Config) Account(n *NetworkConfig, contracts *Contracts) (*relay.Account, error) {
	account := &relay.Account{
		EntryPoint: contracts.EntryPoint,
		Factory:    contracts.AccountFactory,
		Salt:       new(big.Int).SetUint64(c.AccountSalt),
		ChainID:    new(big.Int).SetUint64(n.ChainID),
	}
	if c.SmartAccount != "" {
		sender, err := parseAddress("smart_account", c.SmartAccount, true)
		if err != nil {
			return nil, err
		}
		account.Sender = sender
	}
	key, err := c.OwnerPrivateKey()
	if err != nil {
		return nil, err
	}
	account.Owner = key
	return account, nil
}

// OwnerPrivateKey returns the parsed owner key, nil when none is configured
func (c *Config) OwnerPrivateKey() (*ecdsa.PrivateKey, error) {
	if c.OwnerKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(c.OwnerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid owner_key: %w", err)
	}
	return key, nil
}

func parseAddress(name, value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s address is required", name)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(policy, field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("policy %q: invalid %s %q", policy, field, value)
	}
	return amount, nil
}
