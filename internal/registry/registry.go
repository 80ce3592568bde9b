// Package registry holds the static protocol and known-contract tables and
// an address index over both.
package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// UnknownProtocolName labels aggregate destinations that match no table.
const UnknownProtocolName = "Unknown Protocol"

// ProtocolSpec is the config form of a protocol entry.
type ProtocolSpec struct {
	Key       string   `yaml:"key"`
	Name      string   `yaml:"name"`
	Addresses []string `yaml:"addresses"`
	Color     string   `yaml:"color"`
}

// ContractSpec is the config form of a known contract.
type ContractSpec struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
}

// Registry is immutable after New.
type Registry struct {
	protocols []domain.ProtocolEntry
	byKey     map[string]int
	byAddress map[common.Address]int
	known     map[common.Address]domain.KnownContract
}

// New validates the tables and builds the address index. An address listed
// under two protocols indexes to the first one.
func New(protocols []ProtocolSpec, contracts []ContractSpec) (*Registry, error) {
	r := &Registry{
		byKey:     make(map[string]int, len(protocols)),
		byAddress: make(map[common.Address]int),
		known:     make(map[common.Address]domain.KnownContract, len(contracts)),
	}
	for _, p := range protocols {
		if p.Key == "" {
			return nil, fmt.Errorf("protocol %q: key is required", p.Name)
		}
		if _, dup := r.byKey[p.Key]; dup {
			return nil, fmt.Errorf("protocol %q: duplicate key", p.Key)
		}
		entry := domain.ProtocolEntry{Key: p.Key, Name: p.Name, Color: p.Color}
		if entry.Name == "" {
			entry.Name = p.Key
		}
		seen := make(map[common.Address]struct{}, len(p.Addresses))
		for _, raw := range p.Addresses {
			addr, err := parseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("protocol %q: %w", p.Key, err)
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			entry.Addresses = append(entry.Addresses, addr)
		}
		idx := len(r.protocols)
		r.protocols = append(r.protocols, entry)
		r.byKey[p.Key] = idx
		for _, addr := range entry.Addresses {
			if _, taken := r.byAddress[addr]; !taken {
				r.byAddress[addr] = idx
			}
		}
	}
	for _, c := range contracts {
		addr, err := parseAddress(c.Address)
		if err != nil {
			return nil, fmt.Errorf("known contract %q: %w", c.Name, err)
		}
		r.known[addr] = domain.KnownContract{
			Address:  addr,
			Name:     c.Name,
			Category: domain.ParseCategory(c.Type),
		}
	}
	return r, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// Protocols returns the protocol entries in config order.
func (r *Registry) Protocols() []domain.ProtocolEntry {
	out := make([]domain.ProtocolEntry, len(r.protocols))
	copy(out, r.protocols)
	return out
}

// Protocol looks up a protocol by key.
func (r *Registry) Protocol(key string) (domain.ProtocolEntry, bool) {
	idx, ok := r.byKey[key]
	if !ok {
		return domain.ProtocolEntry{}, false
	}
	return r.protocols[idx], true
}

// ProtocolFor returns the protocol holding addr.
func (r *Registry) ProtocolFor(addr common.Address) (domain.ProtocolEntry, bool) {
	idx, ok := r.byAddress[addr]
	if !ok {
		return domain.ProtocolEntry{}, false
	}
	return r.protocols[idx], true
}

// KnownContract looks up a labelled destination.
func (r *Registry) KnownContract(addr common.Address) (domain.KnownContract, bool) {
	c, ok := r.known[addr]
	return c, ok
}

// Classify names a transfer destination: a known contract keeps its own
// label and category, a protocol holding address counts as a deposit into
// that protocol, anything else is unknown.
func (r *Registry) Classify(addr common.Address) (string, domain.Category) {
	if c, ok := r.known[addr]; ok {
		return c.Name, c.Category
	}
	if p, ok := r.ProtocolFor(addr); ok {
		return p.Name, domain.CategoryDeposit
	}
	return UnknownProtocolName, domain.CategoryUnknown
}
