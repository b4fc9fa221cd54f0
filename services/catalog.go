package services

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/krshsl/interview-engine/models"
)

//go:embed packages.yaml
var defaultCatalog []byte

type catalogFile struct {
	Packages []models.CreditPackage `yaml:"packages"`
}

// ParseCatalog reads a package catalogue and validates every entry.
func ParseCatalog(data []byte) ([]models.CreditPackage, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse package catalogue: %w", err)
	}

	seen := make(map[string]bool, len(file.Packages))
	for i := range file.Packages {
		pkg := &file.Packages[i]
		pkg.Currency = strings.ToUpper(pkg.Currency)
		switch {
		case pkg.ID == "":
			return nil, fmt.Errorf("package %d has no id", i)
		case seen[pkg.ID]:
			return nil, fmt.Errorf("duplicate package id %q", pkg.ID)
		case pkg.Credits <= 0:
			return nil, fmt.Errorf("package %q must grant credits", pkg.ID)
		case pkg.Amount <= 0:
			return nil, fmt.Errorf("package %q must have a positive amount", pkg.ID)
		case len(pkg.Currency) != 3:
			return nil, fmt.Errorf("package %q has invalid currency %q", pkg.ID, pkg.Currency)
		}
		seen[pkg.ID] = true
	}
	return file.Packages, nil
}

// DefaultCatalog returns the built-in packages.
func DefaultCatalog() ([]models.CreditPackage, error) {
	return ParseCatalog(defaultCatalog)
}
