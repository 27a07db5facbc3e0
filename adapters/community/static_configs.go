package community

import (
	"context"
	"fmt"
	"os"

	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
	"gopkg.in/yaml.v3"
)

type fileCommunity struct {
	Alias           string `yaml:"alias"`
	ChainID         int64  `yaml:"chain_id"`
	PrimaryProvider string `yaml:"primary_provider"`
	SessionManager  string `yaml:"session_manager"`
	RPCURL          string `yaml:"rpc_url"`
}

type fileFormat struct {
	Communities []fileCommunity `yaml:"communities"`
}

// StaticConfigs serves community configuration loaded once at startup
type StaticConfigs struct {
	byAlias map[string]core.Community
}

// NewStaticConfigs creates configs from already parsed communities
func NewStaticConfigs(communities ...core.Community) *StaticConfigs {
	c := &StaticConfigs{byAlias: make(map[string]core.Community, len(communities))}
	for _, community := range communities {
		c.byAlias[community.Alias] = community
	}
	return c
}

var _ ports.CommunityConfigs = (*StaticConfigs)(nil)

// LoadFile reads a YAML communities file
func LoadFile(path string) (*StaticConfigs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read communities file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML communities document
func Parse(data []byte) (*StaticConfigs, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse communities: %w", err)
	}

	communities := make([]core.Community, 0, len(file.Communities))
	seen := make(map[string]bool, len(file.Communities))
	for i, fc := range file.Communities {
		if fc.Alias == "" {
			return nil, fmt.Errorf("community %d: alias is required", i)
		}
		if seen[fc.Alias] {
			return nil, fmt.Errorf("community %s: duplicate alias", fc.Alias)
		}
		seen[fc.Alias] = true

		provider, err := eth.ParseAddress(fc.PrimaryProvider)
		if err != nil {
			return nil, fmt.Errorf("community %s: primary_provider: %w", fc.Alias, err)
		}
		manager, err := eth.ParseAddress(fc.SessionManager)
		if err != nil {
			return nil, fmt.Errorf("community %s: session_manager: %w", fc.Alias, err)
		}

		communities = append(communities, core.Community{
			Alias:           fc.Alias,
			ChainID:         fc.ChainID,
			PrimaryProvider: provider,
			SessionManager:  manager,
			RPCURL:          fc.RPCURL,
		})
	}

	return NewStaticConfigs(communities...), nil
}

// Get returns the community for alias
func (c *StaticConfigs) Get(ctx context.Context, alias string) (*core.Community, error) {
	community, ok := c.byAlias[alias]
	if !ok {
		return nil, ports.ErrCommunityNotFound
	}
	return &community, nil
}
