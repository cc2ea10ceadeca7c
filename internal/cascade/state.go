package cascade

import (
	"context"
	"sort"

	"fipe/lookup/internal/domain"
)

// Catalog is the lookup surface the controller drives. client.FipeClient
// satisfies it.
type Catalog interface {
	ListBrands(ctx context.Context, category domain.VehicleCategory) ([]domain.CatalogReference, error)
	ListModels(ctx context.Context, category domain.VehicleCategory, brandCode string) ([]domain.CatalogReference, error)
	ListYears(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode string) ([]domain.CatalogReference, error)
	GetDetail(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode, yearCode string) (*domain.PricedDetail, error)
}

// Phase is how far down the cascade the current selection has resolved.
type Phase int

const (
	PhaseIdle           Phase = iota // category chosen or not, no brands yet
	PhaseBrandsLoaded                // brand options available
	PhaseModelsLoaded                // brand chosen, model options available
	PhaseYearsLoaded                 // model chosen, year options available
	PhaseDetailResolved              // year chosen, priced detail available
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBrandsLoaded:
		return "brands_loaded"
	case PhaseModelsLoaded:
		return "models_loaded"
	case PhaseYearsLoaded:
		return "years_loaded"
	case PhaseDetailResolved:
		return "detail_resolved"
	default:
		return "unknown"
	}
}

// phaseBelow is the phase a selection change at stage truncates to.
func phaseBelow(stage domain.LookupStage) Phase {
	switch stage {
	case domain.StageCategory:
		return PhaseIdle
	case domain.StageBrand:
		return PhaseBrandsLoaded
	case domain.StageModel:
		return PhaseModelsLoaded
	default:
		return PhaseYearsLoaded
	}
}

// Selection holds the chosen code at every level.
type Selection struct {
	Category  domain.VehicleCategory `json:"category"`
	BrandCode string                 `json:"brand_code"`
	ModelCode string                 `json:"model_code"`
	YearCode  string                 `json:"year_code"`
}

// parentsOf keeps only the codes that parameterize the fetch feeding stage.
func (s Selection) parentsOf(stage domain.LookupStage) Selection {
	out := Selection{Category: s.Category}
	if stage > domain.StageBrand {
		out.BrandCode = s.BrandCode
	}
	if stage > domain.StageModel {
		out.ModelCode = s.ModelCode
	}
	if stage > domain.StageYear {
		out.YearCode = s.YearCode
	}
	return out
}

type NoticeKind int

const (
	NoticeRateLimited    NoticeKind = iota + 1
	NoticeNetworkFailure            // transport failure, reported generically
	NoticeNotFound                  // list stage had no data for the parent codes
	NoticeNoReference               // detail stage had no priced record; advisory only
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeRateLimited:
		return "rate_limited"
	case NoticeNetworkFailure:
		return "network_failure"
	case NoticeNotFound:
		return "not_found"
	case NoticeNoReference:
		return "no_reference"
	default:
		return "unknown"
	}
}

// Notice is the single user-visible message for a failed stage.
type Notice struct {
	Stage       domain.LookupStage `json:"stage"`
	Kind        NoticeKind         `json:"kind"`
	Message     string             `json:"message"`
	Remediation string             `json:"remediation,omitempty"`
}

// Snapshot is a copy of the controller state for the form to render.
type Snapshot struct {
	Version   uint64                    `json:"version"`
	Phase     Phase                     `json:"phase"`
	Selection Selection                 `json:"selection"`
	Brands    []domain.CatalogReference `json:"brands"`
	Models    []domain.CatalogReference `json:"models"`
	Years     []domain.CatalogReference `json:"years"`
	Detail    *domain.PricedDetail      `json:"detail,omitempty"`
	Loading   []domain.LookupStage      `json:"loading,omitempty"`
	Restoring bool                      `json:"restoring"`
	Notices   []Notice                  `json:"notices,omitempty"`
}

// IsLoading reports whether a fetch feeding stage is outstanding.
func (s Snapshot) IsLoading(stage domain.LookupStage) bool {
	for _, l := range s.Loading {
		if l == stage {
			return true
		}
	}
	return false
}

// Notice returns the notice for stage, if any.
func (s Snapshot) Notice(stage domain.LookupStage) (Notice, bool) {
	for _, n := range s.Notices {
		if n.Stage == stage {
			return n, true
		}
	}
	return Notice{}, false
}

// state is everything a restore commits in one step.
type state struct {
	phase   Phase
	sel     Selection
	brands  []domain.CatalogReference
	models  []domain.CatalogReference
	years   []domain.CatalogReference
	detail  *domain.PricedDetail
	notices map[domain.LookupStage]Notice
}

func newState() state {
	return state{notices: make(map[domain.LookupStage]Notice)}
}

// truncate clears everything downstream of a selection change at stage.
func (s *state) truncate(stage domain.LookupStage) {
	if stage < domain.StageBrand {
		s.sel.BrandCode = ""
		s.brands = nil
	}
	if stage < domain.StageModel {
		s.sel.ModelCode = ""
		s.models = nil
	}
	if stage < domain.StageYear {
		s.sel.YearCode = ""
		s.years = nil
	}
	s.detail = nil

	for noticeStage := range s.notices {
		if noticeStage > stage {
			delete(s.notices, noticeStage)
		}
	}

	s.phase = min(s.phase, phaseBelow(stage))
}

func (s *state) snapshot(version uint64, loading []domain.LookupStage, restoring bool) Snapshot {
	snap := Snapshot{
		Version:   version,
		Phase:     s.phase,
		Selection: s.sel,
		Brands:    append([]domain.CatalogReference(nil), s.brands...),
		Models:    append([]domain.CatalogReference(nil), s.models...),
		Years:     append([]domain.CatalogReference(nil), s.years...),
		Loading:   loading,
		Restoring: restoring,
	}
	if s.detail != nil {
		detail := *s.detail
		snap.Detail = &detail
	}
	for _, n := range s.notices {
		snap.Notices = append(snap.Notices, n)
	}
	sort.Slice(snap.Notices, func(i, j int) bool { return snap.Notices[i].Stage < snap.Notices[j].Stage })
	return snap
}
