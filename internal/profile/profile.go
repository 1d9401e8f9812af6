// Package profile implements the policy store: named profiles loaded
// from YAML files, atomic switching, and persistence of the active
// selection across restarts.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kernwatch/kernd/internal/domain"
)

// LoadFile reads and validates a single profile from a YAML file.
func LoadFile(path string) (domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	// Limits default to the compiled-in values when the file omits them.
	p := domain.Profile{
		Limits: domain.Limits{
			MaxCPUPercent: 90,
			MaxRAMPercent: 85,
			MaxTempC:      85,
		},
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := Validate(p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// Validate enforces the profile invariants.
func Validate(p domain.Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if p.Limits.MaxCPUPercent < 0 || p.Limits.MaxCPUPercent > 100 {
		return fmt.Errorf("profile %s: invalid max_cpu_percent %.1f (must be 0-100)", p.Name, p.Limits.MaxCPUPercent)
	}
	if p.Limits.MaxRAMPercent < 0 || p.Limits.MaxRAMPercent > 100 {
		return fmt.Errorf("profile %s: invalid max_ram_percent %.1f (must be 0-100)", p.Name, p.Limits.MaxRAMPercent)
	}
	if p.Limits.MaxTempC < 0 || p.Limits.MaxTempC > 120 {
		return fmt.Errorf("profile %s: invalid max_temp %.1f (must be 0-120)", p.Name, p.Limits.MaxTempC)
	}
	return nil
}
