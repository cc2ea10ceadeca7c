package domain

import (
	"fmt"
	"strings"
)

type VehicleCategory string

func (c VehicleCategory) String() string {
	return string(c)
}

const (
	VehicleCategoryCar        VehicleCategory = "car"
	VehicleCategoryMotorcycle VehicleCategory = "motorcycle"
	VehicleCategoryTruck      VehicleCategory = "truck" // Buses are priced under trucks
)

var VehicleCategories = []VehicleCategory{
	VehicleCategoryCar,
	VehicleCategoryMotorcycle,
	VehicleCategoryTruck,
}

// ParseVehicleCategory maps proposal form values and their Portuguese aliases
// onto the three classes the catalog prices.
func ParseVehicleCategory(value string) (VehicleCategory, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "car", "cars", "carro", "carros":
		return VehicleCategoryCar, nil
	case "motorcycle", "motorcycles", "moto", "motos":
		return VehicleCategoryMotorcycle, nil
	case "truck", "trucks", "caminhao", "caminhão", "caminhoes", "caminhões",
		"bus", "onibus", "ônibus":
		return VehicleCategoryTruck, nil
	default:
		return "", fmt.Errorf("unsupported vehicle category %q", value)
	}
}

func (c VehicleCategory) Valid() bool {
	switch c {
	case VehicleCategoryCar, VehicleCategoryMotorcycle, VehicleCategoryTruck:
		return true
	default:
		return false
	}
}

// PathSegment returns the catalog URL segment for the category. Legacy
// catalogs use Portuguese segments.
func (c VehicleCategory) PathSegment(legacy bool) string {
	switch c {
	case VehicleCategoryCar:
		if legacy {
			return "carros"
		}
		return "cars"
	case VehicleCategoryMotorcycle:
		if legacy {
			return "motos"
		}
		return "motorcycles"
	case VehicleCategoryTruck:
		if legacy {
			return "caminhoes"
		}
		return "trucks"
	default:
		return ""
	}
}

func (c VehicleCategory) GetCategoryName() string {
	switch c {
	case VehicleCategoryCar:
		return "Carros"
	case VehicleCategoryMotorcycle:
		return "Motos"
	case VehicleCategoryTruck:
		return "Caminhões"
	default:
		return "Unknown"
	}
}
