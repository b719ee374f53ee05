package payments

import (
	"github.com/drivehub/school-engine/school"
)

// MatchPackage resolves a paid amount (in minor units, as providers
// report it) to a package by exact price match against the school's
// catalog. Range matching is deliberately not supported: an amount
// that matches no package exactly is an unmappable payment, not an
// approximation of one.
func MatchPackage(packages []school.Package, amountMinor int64) (*school.Package, error) {
	for i := range packages {
		if packages[i].PriceMinorUnits() == amountMinor {
			return &packages[i], nil
		}
	}
	return nil, school.ErrUnmappablePrice
}
