package chains

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perpdex/keeper-gateway/internal/config"
)

// Token describes one tradable asset in a chain deployment.
type Token struct {
	Symbol         string `json:"symbol"`
	Address        string `json:"address"`
	Decimals       int    `json:"decimals"`
	OracleDecimals int    `json:"oracleDecimals"`
	Synthetic      bool   `json:"synthetic,omitempty"`
}

// Deployment is the static deployment description for one chain: identity,
// keeper endpoints, and the token registry. Built once at startup and
// read-only afterwards.
type Deployment struct {
	Name       string
	ChainID    int64
	KeeperURLs []string
	DevMode    bool

	tokens    []Token
	bySymbol  map[string]Token
	byAddress map[string]Token
}

// Build constructs deployments for every configured chain.
func Build(cfgs map[string]config.ChainConfig) (map[string]*Deployment, error) {
	deployments := make(map[string]*Deployment, len(cfgs))
	for name, cfg := range cfgs {
		d, err := NewDeployment(name, cfg)
		if err != nil {
			return nil, err
		}
		deployments[name] = d
	}
	return deployments, nil
}

// NewDeployment validates and builds a single chain deployment.
func NewDeployment(name string, cfg config.ChainConfig) (*Deployment, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain %s: missing chain id", name)
	}
	if len(cfg.KeeperURLs) == 0 {
		return nil, fmt.Errorf("chain %s: no keeper urls", name)
	}

	d := &Deployment{
		Name:       name,
		ChainID:    cfg.ChainID,
		KeeperURLs: append([]string(nil), cfg.KeeperURLs...),
		DevMode:    cfg.DevMode,
		bySymbol:   make(map[string]Token),
		byAddress:  make(map[string]Token),
	}

	for _, tc := range cfg.Tokens {
		token := Token{
			Symbol:         strings.ToUpper(tc.Symbol),
			Address:        tc.Address,
			Decimals:       tc.Decimals,
			OracleDecimals: tc.OracleDecimals,
			Synthetic:      tc.Synthetic,
		}
		if token.Symbol == "" {
			return nil, fmt.Errorf("chain %s: token with empty symbol", name)
		}
		if _, dup := d.bySymbol[token.Symbol]; dup {
			return nil, fmt.Errorf("chain %s: duplicate token symbol %s", name, token.Symbol)
		}
		addrKey := strings.ToLower(token.Address)
		if addrKey != "" {
			if _, dup := d.byAddress[addrKey]; dup {
				return nil, fmt.Errorf("chain %s: duplicate token address %s", name, token.Address)
			}
			d.byAddress[addrKey] = token
		}
		d.bySymbol[token.Symbol] = token
		d.tokens = append(d.tokens, token)
	}

	return d, nil
}

// Tokens returns the token registry in configuration order.
func (d *Deployment) Tokens() []Token {
	return d.tokens
}

// TokenBySymbol looks up a token by its symbol, case-insensitively.
func (d *Deployment) TokenBySymbol(symbol string) (Token, bool) {
	t, ok := d.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// TokenByAddress looks up a token by its address, case-insensitively.
func (d *Deployment) TokenByAddress(address string) (Token, bool) {
	t, ok := d.byAddress[strings.ToLower(address)]
	return t, ok
}

// Names returns chain names in stable sorted order.
func Names(deployments map[string]*Deployment) []string {
	names := make([]string, 0, len(deployments))
	for name := range deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
