package domain

// CatalogReference is one selectable entry of a brand, model or year list.
type CatalogReference struct {
	Code string `json:"code"` // Unique within its list
	Name string `json:"name"` // Display name like "VOLKSWAGEN", "Nivus", "2023 Flex"
}

// PricedDetail is the terminal lookup result for a fully chosen vehicle.
type PricedDetail struct {
	Value          string `json:"value"`           // Formatted currency, "R$ 130.000,00"
	BrandName      string `json:"brand_name"`      // Brand as the catalog names it
	ModelName      string `json:"model_name"`      // Model as the catalog names it
	ModelYear      int    `json:"model_year"`      // 32000 marks a zero-km vehicle
	Fuel           string `json:"fuel"`            // "Flex", "Gasolina", "Diesel"
	FuelAcronym    string `json:"fuel_acronym"`    // "F", "G", "D"
	ReferenceMonth string `json:"reference_month"` // "outubro de 2026"
	FipeCode       string `json:"fipe_code"`       // "005540-5"
	VehicleType    int    `json:"vehicle_type"`    // 1 car, 2 motorcycle, 3 truck
}

// FindReference returns the entry with the given code, if present.
func FindReference(list []CatalogReference, code string) (CatalogReference, bool) {
	for _, ref := range list {
		if ref.Code == code {
			return ref, true
		}
	}
	return CatalogReference{}, false
}
