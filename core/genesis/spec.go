// Package genesis loads the YAML genesis document and applies it to a fresh
// chain through the administrative surface.
package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vchain/crypto"
)

type GenesisSpec struct {
	Name             string                       `yaml:"name"`
	ChainID          uint64                       `yaml:"chainId"`
	PrincipalToken   string                       `yaml:"principalToken"`
	GasLimit         uint64                       `yaml:"gasLimit"`
	BlockTimeSeconds uint64                       `yaml:"blockTimeSeconds"`
	Supply           SupplySpec                   `yaml:"supply"`
	Signatures       bool                         `yaml:"signatures"`
	AllowList        AllowListSpec                `yaml:"allowList"`
	Validators       []string                     `yaml:"validators"`
	Governors        []string                     `yaml:"governors"`
	Stakers          []string                     `yaml:"stakers"`
	Identities       map[string]string            `yaml:"identities"` // alias -> addr
	Alloc            map[string]map[string]uint64 `yaml:"alloc"`      // addr -> token -> amount
	Staking          *StakingSpec                 `yaml:"staking,omitempty"`

	principal crypto.Address
}

type SupplySpec struct {
	Total        uint64 `yaml:"total"`
	EraThreshold uint64 `yaml:"eraThreshold"`
	RewardPerTx  uint64 `yaml:"rewardPerTx"`
}

type AllowListSpec struct {
	Enabled bool     `yaml:"enabled"`
	Tokens  []string `yaml:"tokens"`
}

type StakingSpec struct {
	APR            *uint64 `yaml:"apr,omitempty"`
	MinLockSeconds *uint64 `yaml:"minLockSeconds,omitempty"`
}

// Allocation is one resolved genesis credit.
type Allocation struct {
	Account crypto.Address
	Token   crypto.Address
	Amount  uint64
}

// Identity is one resolved alias binding.
type Identity struct {
	Alias   string
	Address crypto.Address
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a YAML genesis document. Unknown
// fields are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty genesis document")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *GenesisSpec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name must be provided")
	}
	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be non-zero")
	}
	principal, err := parseAddress("principalToken", s.PrincipalToken)
	if err != nil {
		return err
	}
	s.principal = principal
	if s.Supply.Total > 0 && (s.Supply.EraThreshold == 0 || s.Supply.RewardPerTx == 0) {
		return fmt.Errorf("supply: eraThreshold and rewardPerTx required with a total")
	}
	for field, list := range map[string][]string{
		"allowList.tokens": s.AllowList.Tokens,
		"validators":       s.Validators,
		"governors":        s.Governors,
		"stakers":          s.Stakers,
	} {
		if _, err := parseAddresses(field, list); err != nil {
			return err
		}
	}
	if _, err := s.ResolvedIdentities(); err != nil {
		return err
	}
	if _, err := s.Allocations(); err != nil {
		return err
	}
	return nil
}

// Principal returns the parsed principal token address.
func (s *GenesisSpec) Principal() crypto.Address { return s.principal }

// ValidatorAddresses returns the validators in document order.
func (s *GenesisSpec) ValidatorAddresses() ([]crypto.Address, error) {
	return parseAddresses("validators", s.Validators)
}

// GovernorAddresses returns the treasury governors in document order.
func (s *GenesisSpec) GovernorAddresses() ([]crypto.Address, error) {
	return parseAddresses("governors", s.Governors)
}

// StakerAddresses returns the admin-flagged stakers in document order.
func (s *GenesisSpec) StakerAddresses() ([]crypto.Address, error) {
	return parseAddresses("stakers", s.Stakers)
}

// AllowedTokens returns the allow-listed tokens in document order.
func (s *GenesisSpec) AllowedTokens() ([]crypto.Address, error) {
	return parseAddresses("allowList.tokens", s.AllowList.Tokens)
}

// ResolvedIdentities returns the alias bindings sorted by alias.
func (s *GenesisSpec) ResolvedIdentities() ([]Identity, error) {
	aliases := make([]string, 0, len(s.Identities))
	for alias := range s.Identities {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	out := make([]Identity, 0, len(aliases))
	for _, alias := range aliases {
		if strings.TrimSpace(alias) == "" {
			return nil, fmt.Errorf("identities: empty alias")
		}
		addr, err := parseAddress("identities."+alias, s.Identities[alias])
		if err != nil {
			return nil, err
		}
		out = append(out, Identity{Alias: alias, Address: addr})
	}
	return out, nil
}

// Allocations returns the genesis credits ordered by account then token so
// every node applies them identically.
func (s *GenesisSpec) Allocations() ([]Allocation, error) {
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	var out []Allocation
	for _, account := range accounts {
		addr, err := parseAddress("alloc", account)
		if err != nil {
			return nil, err
		}
		tokens := make([]string, 0, len(s.Alloc[account]))
		for token := range s.Alloc[account] {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			tokenAddr, err := parseAddress("alloc."+account, token)
			if err != nil {
				return nil, err
			}
			amount := s.Alloc[account][token]
			if amount == 0 {
				continue
			}
			out = append(out, Allocation{Account: addr, Token: tokenAddr, Amount: amount})
		}
	}
	return out, nil
}

func parseAddresses(field string, raw []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	seen := make(map[crypto.Address]struct{}, len(raw))
	for i, entry := range raw {
		addr, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), entry)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%s[%d]: duplicate address %s", field, i, entry)
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}
