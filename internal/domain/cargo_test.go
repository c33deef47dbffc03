package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckLoadCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		cargo     CargoType
		packaging PackagingType
		category  WagonCategory
		wantErr   bool
	}{
		{"standard boxed in boxcar", CargoStandard, PackagingBox, CategoryBoxcar, false},
		{"liquid in tank", CargoLiquid, PackagingTank, CategoryTank, false},
		{"liquid in boxcar", CargoLiquid, PackagingNone, CategoryBoxcar, true},
		{"liquid in gondola", CargoLiquid, PackagingTank, CategoryGondola, true},
		{"box into tank wagon", CargoStandard, PackagingBox, CategoryTank, true},
		{"sack into tank wagon", CargoStandard, PackagingSack, CategoryTank, true},
		{"fragile unpackaged", CargoFragile, PackagingNone, CategoryBoxcar, true},
		{"fragile boxed", CargoFragile, PackagingBox, CategoryBoxcar, false},
		{"electronics unpackaged", CargoElectronics, PackagingNone, CategoryBoxcar, true},
		{"electronics boxed in boxcar", CargoElectronics, PackagingBox, CategoryBoxcar, false},
		{"electronics boxed on flatcar", CargoElectronics, PackagingBox, CategoryFlatcar, true},
		{"electronics containerized on flatcar", CargoElectronics, PackagingContainer, CategoryFlatcar, false},
		{"bulk boxed", CargoBulk, PackagingBox, CategoryHopper, true},
		{"bulk palleted", CargoBulk, PackagingPallet, CategoryHopper, true},
		{"bulk loose in hopper", CargoBulk, PackagingNone, CategoryHopper, false},
		{"container on flatcar", CargoStandard, PackagingContainer, CategoryFlatcar, false},
		{"container in gondola", CargoStandard, PackagingContainer, CategoryGondola, false},
		{"container in boxcar", CargoStandard, PackagingContainer, CategoryBoxcar, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLoadCompatibility(tc.cargo, tc.packaging, tc.category)
			if tc.wantErr {
				var incompat *IncompatibilityError
				assert.ErrorAs(t, err, &incompat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
