package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Budget.validate(); err != nil {
		return err
	}
	if err := c.Guardian.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	for id, secret := range g.SigningKeys {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("gateway.signing_keys contains empty key id")
		}
		if strings.TrimSpace(secret) == "" {
			return fmt.Errorf("gateway.signing_keys.%s has empty secret", id)
		}
	}
	return nil
}

func (b *BudgetConfig) validate() error {
	if len(b.Phases) == 0 {
		return fmt.Errorf("budget.phases requires at least one phase id")
	}
	seen := make(map[string]bool, len(b.Phases))
	for _, p := range b.Phases {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("budget.phases contains empty phase id")
		}
		if seen[p] {
			return fmt.Errorf("budget.phases contains duplicate phase id %q", p)
		}
		seen[p] = true
	}
	if b.RejectRateThreshold >= 1 {
		return fmt.Errorf("budget.reject_rate_threshold must be < 1")
	}
	return nil
}

func (g *GuardianConfig) validate() error {
	if g.MaxCorrelation > 1 {
		return fmt.Errorf("guardian.max_correlation must be <= 1")
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if l.DriftTolerance >= 1 {
		return fmt.Errorf("ledger.drift_tolerance must be < 1")
	}
	if l.RecoveryIncrement >= 1 {
		return fmt.Errorf("ledger.recovery_increment must be < 1")
	}
	return nil
}
