package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"fipe/lookup/internal/domain"
)

// wireFormat maps one catalog version's paths and field names onto the
// internal shapes.
type wireFormat interface {
	brandsPath(category domain.VehicleCategory) string
	modelsPath(category domain.VehicleCategory, brandCode string) string
	yearsPath(category domain.VehicleCategory, brandCode, modelCode string) string
	detailPath(category domain.VehicleCategory, brandCode, modelCode, yearCode string) string

	decodeBrands(body []byte) ([]domain.CatalogReference, error)
	decodeModels(body []byte) ([]domain.CatalogReference, error)
	decodeYears(body []byte) ([]domain.CatalogReference, error)
	decodeDetail(body []byte) (*domain.PricedDetail, error)
}

func newWireFormat(legacy bool) wireFormat {
	if legacy {
		return legacyFormat{}
	}
	return currentFormat{}
}

// flexCode accepts codes sent either as JSON strings or numbers.
type flexCode string

func (c *flexCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = flexCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("code is neither string nor number: %w", err)
	}
	*c = flexCode(n.String())
	return nil
}

// flexInt accepts integers sent either as JSON numbers or numeric strings.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var code flexCode
	if err := code.UnmarshalJSON(data); err != nil {
		return err
	}
	if code == "" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(string(code))
	if err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	*i = flexInt(n)
	return nil
}

// v1: https://parallelum.com.br/fipe/api/v1

type legacyFormat struct{}

type legacyReference struct {
	Nome   string   `json:"nome"`
	Codigo flexCode `json:"codigo"`
}

type legacyModels struct {
	Modelos []legacyReference `json:"modelos"`
	Anos    []legacyReference `json:"anos"`
}

type legacyDetail struct {
	TipoVeiculo      flexInt `json:"TipoVeiculo"`
	Valor            string  `json:"Valor"`
	Marca            string  `json:"Marca"`
	Modelo           string  `json:"Modelo"`
	AnoModelo        flexInt `json:"AnoModelo"`
	Combustivel      string  `json:"Combustivel"`
	CodigoFipe       string  `json:"CodigoFipe"`
	MesReferencia    string  `json:"MesReferencia"`
	SiglaCombustivel string  `json:"SiglaCombustivel"`
}

func (legacyFormat) brandsPath(category domain.VehicleCategory) string {
	return fmt.Sprintf("/%s/marcas", category.PathSegment(true))
}

func (f legacyFormat) modelsPath(category domain.VehicleCategory, brandCode string) string {
	return fmt.Sprintf("%s/%s/modelos", f.brandsPath(category), brandCode)
}

func (f legacyFormat) yearsPath(category domain.VehicleCategory, brandCode, modelCode string) string {
	return fmt.Sprintf("%s/%s/anos", f.modelsPath(category, brandCode), modelCode)
}

func (f legacyFormat) detailPath(category domain.VehicleCategory, brandCode, modelCode, yearCode string) string {
	return fmt.Sprintf("%s/%s", f.yearsPath(category, brandCode, modelCode), yearCode)
}

func (legacyFormat) decodeBrands(body []byte) ([]domain.CatalogReference, error) {
	var items []legacyReference
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	return legacyReferences(items), nil
}

// The legacy models endpoint wraps the list together with the brand's years.
func (legacyFormat) decodeModels(body []byte) ([]domain.CatalogReference, error) {
	var wrapped legacyModels
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return legacyReferences(wrapped.Modelos), nil
}

func (f legacyFormat) decodeYears(body []byte) ([]domain.CatalogReference, error) {
	return f.decodeBrands(body)
}

func (legacyFormat) decodeDetail(body []byte) (*domain.PricedDetail, error) {
	var d legacyDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &domain.PricedDetail{
		Value:          d.Valor,
		BrandName:      d.Marca,
		ModelName:      d.Modelo,
		ModelYear:      int(d.AnoModelo),
		Fuel:           d.Combustivel,
		FuelAcronym:    d.SiglaCombustivel,
		ReferenceMonth: d.MesReferencia,
		FipeCode:       d.CodigoFipe,
		VehicleType:    int(d.TipoVeiculo),
	}, nil
}

func legacyReferences(items []legacyReference) []domain.CatalogReference {
	refs := make([]domain.CatalogReference, 0, len(items))
	for _, item := range items {
		refs = append(refs, domain.CatalogReference{Code: string(item.Codigo), Name: item.Nome})
	}
	return refs
}

// v2: https://fipe.parallelum.com.br/api/v2

type currentFormat struct{}

type currentReference struct {
	Code flexCode `json:"code"`
	Name string   `json:"name"`
}

type currentDetail struct {
	VehicleType    flexInt `json:"vehicleType"`
	Price          string  `json:"price"`
	Brand          string  `json:"brand"`
	Model          string  `json:"model"`
	ModelYear      flexInt `json:"modelYear"`
	Fuel           string  `json:"fuel"`
	CodeFipe       string  `json:"codeFipe"`
	ReferenceMonth string  `json:"referenceMonth"`
	FuelAcronym    string  `json:"fuelAcronym"`
}

func (currentFormat) brandsPath(category domain.VehicleCategory) string {
	return fmt.Sprintf("/%s/brands", category.PathSegment(false))
}

func (f currentFormat) modelsPath(category domain.VehicleCategory, brandCode string) string {
	return fmt.Sprintf("%s/%s/models", f.brandsPath(category), brandCode)
}

func (f currentFormat) yearsPath(category domain.VehicleCategory, brandCode, modelCode string) string {
	return fmt.Sprintf("%s/%s/years", f.modelsPath(category, brandCode), modelCode)
}

func (f currentFormat) detailPath(category domain.VehicleCategory, brandCode, modelCode, yearCode string) string {
	return fmt.Sprintf("%s/%s", f.yearsPath(category, brandCode, modelCode), yearCode)
}

func (currentFormat) decodeBrands(body []byte) ([]domain.CatalogReference, error) {
	var items []currentReference
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	refs := make([]domain.CatalogReference, 0, len(items))
	for _, item := range items {
		refs = append(refs, domain.CatalogReference{Code: string(item.Code), Name: item.Name})
	}
	return refs, nil
}

func (f currentFormat) decodeModels(body []byte) ([]domain.CatalogReference, error) {
	return f.decodeBrands(body)
}

func (f currentFormat) decodeYears(body []byte) ([]domain.CatalogReference, error) {
	return f.decodeBrands(body)
}

func (currentFormat) decodeDetail(body []byte) (*domain.PricedDetail, error) {
	var d currentDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &domain.PricedDetail{
		Value:          d.Price,
		BrandName:      d.Brand,
		ModelName:      d.Model,
		ModelYear:      int(d.ModelYear),
		Fuel:           d.Fuel,
		FuelAcronym:    d.FuelAcronym,
		ReferenceMonth: d.ReferenceMonth,
		FipeCode:       d.CodeFipe,
		VehicleType:    int(d.VehicleType),
	}, nil
}
