package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"savings-swap/pkg/pool"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/types"
)

const sampleConfig = `
network: base-sepolia
smart_account: "0x00000000000000000000000000000000000000aa"
owner_key: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
networks:
  base-sepolia:
    chain_id: 84532
    rpc_url: https://sepolia.base.org
    bundler_url: https://bundler.example/rpc
    router: "0x00000000000000000000000000000000000000b1"
    quoter: "0x00000000000000000000000000000000000000b2"
    hook: "0x00000000000000000000000000000000000000c4"
    entry_point: "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
    tokens:
      - symbol: eth
        decimals: 18
        common: true
      - symbol: USDC
        address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
        decimals: 6
quote:
  slippage_bps: 100
  stale_after: 45s
sponsorship:
  policies:
    - name: onboarding
      priority: 0
      kinds: [first_time_setup]
      ratio: 1
      first_time_only: true
    - name: stakers
      priority: 10
      kinds: [swap, approve]
      ratio: 0.5
      min_staked: "1000000000000000000"
      min_account_age: 72h
prices:
  static:
    "0x036CbD53842c5426634e7929541eC2318f3dCF7e": "1"
`

func decodeSample(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(sampleConfig)))
	cfg, err := Decode(v)
	require.NoError(t, err)
	return cfg
}

func TestDecodeAppliesDefaults(t *testing.T) {
	cfg := decodeSample(t)

	require.Equal(t, uint32(100), cfg.Quote.SlippageBps)
	require.Equal(t, 45*time.Second, cfg.Quote.StaleAfter)
	require.Equal(t, 10*time.Second, cfg.Quote.RefreshInterval)
	require.Equal(t, 500*time.Millisecond, cfg.Quote.Debounce)
	require.Equal(t, uint64(200000), cfg.Quote.FallbackGas)
	require.Equal(t, pool.DefaultFeeTiers, cfg.Quote.FeeTiers)
	require.Equal(t, 3*time.Second, cfg.Execution.InvalidationDelay)
	require.Equal(t, 60*time.Second, cfg.Execution.ConfirmTimeout)
	require.Equal(t, "https://1click.chaindefuser.com", cfg.OneClick.BaseURL)
	require.Len(t, cfg.Prices.Static, 1)
}

func TestActiveNetwork(t *testing.T) {
	cfg := decodeSample(t)

	n, err := cfg.ActiveNetwork()
	require.NoError(t, err)
	require.Equal(t, uint64(84532), n.ChainID)

	contracts, err := n.Contracts()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xc4"), contracts.Hook)
	require.Equal(t, common.Address{}, contracts.AccountFactory)

	tokens, err := n.TokenList()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.True(t, tokens[0].IsNative())
	require.Equal(t, "ETH", tokens[0].Symbol)
	require.True(t, tokens[0].IsCommon)
	usdc, ok := types.FindToken(tokens, "usdc")
	require.True(t, ok)
	require.Equal(t, uint8(6), usdc.Decimals)

	cfg.Network = "mainnet"
	_, err = cfg.ActiveNetwork()
	require.ErrorContains(t, err, "base-sepolia")
}

func TestContractsRequireVenue(t *testing.T) {
	n := &NetworkConfig{Router: "0x00000000000000000000000000000000000000b1"}
	_, err := n.Contracts()
	require.ErrorContains(t, err, "quoter")

	n = &NetworkConfig{Router: "nope"}
	_, err = n.Contracts()
	require.ErrorContains(t, err, "invalid router")
}

func TestSponsorPolicies(t *testing.T) {
	cfg := decodeSample(t)

	policies, err := cfg.SponsorPolicies()
	require.NoError(t, err)
	require.Len(t, policies, 2)

	require.Equal(t, []sponsor.OperationKind{sponsor.OpFirstTimeSetup}, policies[0].Kinds)
	require.True(t, policies[0].FirstTimeOnly)
	require.Equal(t, "1", policies[0].Ratio.String())

	require.Equal(t, "0.5", policies[1].Ratio.String())
	require.Equal(t, "1000000000000000000", policies[1].MinStaked.String())
	require.Nil(t, policies[1].MinBalance)
	require.Equal(t, 72*time.Hour, policies[1].MinAccountAge)

	_, err = sponsor.NewResolver(policies)
	require.NoError(t, err)

	cfg.Sponsorship.Policies[1].MinStaked = "-1"
	_, err = cfg.SponsorPolicies()
	require.Error(t, err)
}

func TestAccount(t *testing.T) {
	cfg := decodeSample(t)
	n, err := cfg.ActiveNetwork()
	require.NoError(t, err)
	contracts, err := n.Contracts()
	require.NoError(t, err)

	account, err := cfg.Account(n, contracts)
	require.NoError(t, err)
	require.True(t, account.Ready())
	require.Equal(t, "84532", account.ChainID.String())
	require.Equal(t, common.HexToAddress("0xaa"), account.Sender)

	want, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(want.PublicKey), account.OwnerAddress())

	cfg.OwnerKey = ""
	account, err = cfg.Account(n, contracts)
	require.NoError(t, err)
	require.False(t, account.Ready())

	cfg.OwnerKey = "0x1234"
	_, err = cfg.Account(n, contracts)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SAVINGS_SWAP_QUOTE_SLIPPAGE_BPS", "75")
	t.Setenv("SAVINGS_SWAP_NETWORK", "base")

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	cfg, err := Decode(v)
	require.NoError(t, err)
	require.Equal(t, uint32(75), cfg.Quote.SlippageBps)
	require.Equal(t, "base", cfg.Network)
}

func TestDecodeRejectsSlippage(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("quote.slippage_bps", 20000)
	_, err := Decode(v)
	require.Error(t, err)
}
