package main

import (
	"fmt"

	"coordinator/internal/core/domain"
	"coordinator/internal/infrastructure/pairing"
	"coordinator/pkg/config"
	"coordinator/pkg/validation"
)

// buildPolicy turns the pairing section into a role policy.
func buildPolicy(cfg *config.Config) (*pairing.Policy, error) {
	roles := make([]domain.Role, 0, len(cfg.Pairing.Roles))
	for _, r := range cfg.Pairing.Roles {
		if err := validation.ValidateRoleName(r); err != nil {
			return nil, fmt.Errorf("pairing.roles: %w", err)
		}
		roles = append(roles, domain.Role(r))
	}

	aliases := make(map[string]domain.Role, len(cfg.Pairing.Aliases))
	for alias, r := range cfg.Pairing.Aliases {
		if err := validation.ValidateRoleName(alias); err != nil {
			return nil, fmt.Errorf("pairing.aliases: %w", err)
		}
		aliases[alias] = domain.Role(r)
	}

	pairs := make([][2]domain.Role, 0, len(cfg.Pairing.Pairs))
	for _, p := range cfg.Pairing.Pairs {
		pairs = append(pairs, [2]domain.Role{domain.Role(p["a"]), domain.Role(p["b"])})
	}

	return pairing.NewPolicy(roles, aliases, pairs)
}
