package cascade

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fipe/lookup/internal/client"
	"fipe/lookup/internal/domain"
)

var (
	volkswagen = domain.CatalogReference{Code: "21", Name: "VOLKSWAGEN"}
	fiat       = domain.CatalogReference{Code: "59", Name: "FIAT"}
	nivus      = domain.CatalogReference{Code: "5940", Name: "Nivus"}
	polo       = domain.CatalogReference{Code: "5585", Name: "Polo"}
	argo       = domain.CatalogReference{Code: "8000", Name: "Argo"}
	year2023   = domain.CatalogReference{Code: "2023-1", Name: "2023 Flex"}

	nivusDetail = &domain.PricedDetail{
		Value:          "R$ 130.000,00",
		BrandName:      "VOLKSWAGEN",
		ModelName:      "Nivus",
		ModelYear:      2023,
		Fuel:           "Flex",
		FuelAcronym:    "F",
		ReferenceMonth: "outubro de 2026",
		FipeCode:       "005540-5",
		VehicleType:    1,
	}
)

// staticCatalog answers immediately from fixed tables.
type staticCatalog struct {
	mu      sync.Mutex
	brands  map[domain.VehicleCategory][]domain.CatalogReference
	models  map[string][]domain.CatalogReference
	years   map[string][]domain.CatalogReference
	details map[string]*domain.PricedDetail
	errs    map[domain.LookupStage]error
	calls   map[domain.LookupStage]int
}

func newStaticCatalog() *staticCatalog {
	return &staticCatalog{
		brands: map[domain.VehicleCategory][]domain.CatalogReference{
			domain.VehicleCategoryCar: {volkswagen, fiat},
		},
		models: map[string][]domain.CatalogReference{
			"21": {nivus, polo},
			"59": {argo},
		},
		years: map[string][]domain.CatalogReference{
			"5940": {year2023},
		},
		details: map[string]*domain.PricedDetail{
			"21/5940/2023-1": nivusDetail,
		},
		errs:  make(map[domain.LookupStage]error),
		calls: make(map[domain.LookupStage]int),
	}
}

func (s *staticCatalog) record(stage domain.LookupStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[stage]++
	return s.errs[stage]
}

func (s *staticCatalog) setErr(stage domain.LookupStage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[stage] = err
}

func (s *staticCatalog) callCount(stage domain.LookupStage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *staticCatalog) ListBrands(_ context.Context, category domain.VehicleCategory) ([]domain.CatalogReference, error) {
	if err := s.record(domain.StageBrand); err != nil {
		return nil, err
	}
	list, ok := s.brands[category]
	if !ok {
		return nil, client.ErrNotFound
	}
	return append([]domain.CatalogReference(nil), list...), nil
}

func (s *staticCatalog) ListModels(_ context.Context, _ domain.VehicleCategory, brandCode string) ([]domain.CatalogReference, error) {
	if err := s.record(domain.StageModel); err != nil {
		return nil, err
	}
	list, ok := s.models[brandCode]
	if !ok {
		return nil, client.ErrNotFound
	}
	return append([]domain.CatalogReference(nil), list...), nil
}

func (s *staticCatalog) ListYears(_ context.Context, _ domain.VehicleCategory, _, modelCode string) ([]domain.CatalogReference, error) {
	if err := s.record(domain.StageYear); err != nil {
		return nil, err
	}
	list, ok := s.years[modelCode]
	if !ok {
		return nil, client.ErrNotFound
	}
	return append([]domain.CatalogReference(nil), list...), nil
}

func (s *staticCatalog) GetDetail(_ context.Context, _ domain.VehicleCategory, brandCode, modelCode, yearCode string) (*domain.PricedDetail, error) {
	if err := s.record(domain.StageDetail); err != nil {
		return nil, err
	}
	detail, ok := s.details[brandCode+"/"+modelCode+"/"+yearCode]
	if !ok {
		return nil, fmt.Errorf("detail: %w", client.ErrNotFound)
	}
	copied := *detail
	return &copied, nil
}

// gatedCatalog parks every call until the test replies to it.
type gatedCatalog struct {
	calls chan *gatedCall

	// ignoreCancel keeps a call parked after its context is cancelled, like a
	// server that answers anyway.
	ignoreCancel bool
}

type gatedCall struct {
	stage domain.LookupStage
	sel   Selection
	reply chan gatedReply
}

type gatedReply struct {
	list   []domain.CatalogReference
	detail *domain.PricedDetail
	err    error
}

func newGatedCatalog() *gatedCatalog {
	return &gatedCatalog{calls: make(chan *gatedCall, 16)}
}

func (g *gatedCatalog) park(ctx context.Context, stage domain.LookupStage, sel Selection) gatedReply {
	call := &gatedCall{stage: stage, sel: sel, reply: make(chan gatedReply, 1)}
	g.calls <- call

	if g.ignoreCancel {
		return <-call.reply
	}
	select {
	case r := <-call.reply:
		return r
	case <-ctx.Done():
		return gatedReply{err: fmt.Errorf("%w: %w", client.ErrNetworkFailure, ctx.Err())}
	}
}

func (g *gatedCatalog) next(t *testing.T) *gatedCall {
	t.Helper()
	select {
	case call := <-g.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a catalog call")
		return nil
	}
}

func (g *gatedCatalog) ListBrands(ctx context.Context, category domain.VehicleCategory) ([]domain.CatalogReference, error) {
	r := g.park(ctx, domain.StageBrand, Selection{Category: category})
	return r.list, r.err
}

func (g *gatedCatalog) ListModels(ctx context.Context, category domain.VehicleCategory, brandCode string) ([]domain.CatalogReference, error) {
	r := g.park(ctx, domain.StageModel, Selection{Category: category, BrandCode: brandCode})
	return r.list, r.err
}

func (g *gatedCatalog) ListYears(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode string) ([]domain.CatalogReference, error) {
	r := g.park(ctx, domain.StageYear, Selection{Category: category, BrandCode: brandCode, ModelCode: modelCode})
	return r.list, r.err
}

func (g *gatedCatalog) GetDetail(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode, yearCode string) (*domain.PricedDetail, error) {
	r := g.park(ctx, domain.StageDetail, Selection{Category: category, BrandCode: brandCode, ModelCode: modelCode, YearCode: yearCode})
	return r.detail, r.err
}
