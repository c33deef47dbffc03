package domain

import "fmt"

// CargoType classifies what is being shipped.
type CargoType string

const (
	CargoStandard    CargoType = "standard"
	CargoBulk        CargoType = "bulk"
	CargoLiquid      CargoType = "liquid"
	CargoDangerous   CargoType = "dangerous"
	CargoFragile     CargoType = "fragile"
	CargoElectronics CargoType = "electronics"
	CargoOversized   CargoType = "oversized"
)

// PackagingType classifies how the cargo is packed.
type PackagingType string

const (
	PackagingContainer PackagingType = "container"
	PackagingTank      PackagingType = "tank"
	PackagingPallet    PackagingType = "pallet"
	PackagingBox       PackagingType = "box"
	PackagingSack      PackagingType = "sack"
	PackagingNone      PackagingType = "none"
)

// IncompatibilityError reports a cargo/packaging/wagon combination that a
// dispatcher is not allowed to book.
type IncompatibilityError struct {
	Reason string
}

func (e *IncompatibilityError) Error() string {
	return fmt.Sprintf("incompatible load: %s", e.Reason)
}

func incompatible(format string, args ...any) error {
	return &IncompatibilityError{Reason: fmt.Sprintf(format, args...)}
}

// rigidPackaging cannot go through a tank dome.
var rigidPackaging = map[PackagingType]bool{
	PackagingContainer: true,
	PackagingPallet:    true,
	PackagingBox:       true,
	PackagingSack:      true,
}

// openCategories carry loads on an open deck.
var openCategories = map[WagonCategory]bool{
	CategoryFlatcar: true,
	CategoryGondola: true,
}

// CheckLoadCompatibility validates a cargo/packaging pair against a wagon
// category. The rules mirror operational constraints: liquids need tanks,
// rigid packaging cannot enter a tank, fragile loads need packaging,
// containers ride open stock only, and bulk freight is never boxed.
func CheckLoadCompatibility(cargo CargoType, packaging PackagingType, category WagonCategory) error {
	isTank := category == CategoryTank
	isOpen := openCategories[category]

	if cargo == CargoLiquid && !isTank {
		return incompatible("liquid cargo requires a tank wagon, got %s", category)
	}

	if isTank && rigidPackaging[packaging] {
		return incompatible("%s packaging cannot be loaded into a tank wagon", packaging)
	}

	if (cargo == CargoElectronics || cargo == CargoFragile) && packaging == PackagingNone {
		return incompatible("%s cargo cannot travel unpackaged", cargo)
	}

	if cargo == CargoElectronics && isOpen && packaging != PackagingContainer {
		return incompatible("electronics on open stock must be containerized")
	}

	if cargo == CargoBulk && (packaging == PackagingBox || packaging == PackagingPallet) {
		return incompatible("bulk cargo moves loose, not in boxes or pallets")
	}

	if packaging == PackagingContainer && !isOpen {
		return incompatible("containers mount on flatcars or gondolas only")
	}

	return nil
}
