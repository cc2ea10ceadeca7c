package proposal

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fipe/lookup/internal/cascade"
	"fipe/lookup/internal/domain"

	log "github.com/sirupsen/logrus"
)

var ErrIncomplete = errors.New("proposal vehicle is incomplete")

// Vehicle holds the proposal fields the catalog lookup reads or fills in.
// Codes mirror the cascade selection. Names and ReferenceValue are written
// from the resolved detail. The rest is typed by the salesperson.
type Vehicle struct {
	VehicleType     domain.VehicleCategory `json:"vehicle_type"`
	BrandCode       string                 `json:"brand_code"`
	BrandName       string                 `json:"brand_name"`
	ModelCode       string                 `json:"model_code"`
	ModelName       string                 `json:"model_name"`
	YearCode        string                 `json:"year_code"`
	ModelYear       int                    `json:"model_year"`
	ManufactureYear int                    `json:"manufacture_year"`
	Value           string                 `json:"value"`
	ReferenceValue  string                 `json:"reference_value"`
}

// Selection returns the cascade selection saved on the vehicle.
func (v *Vehicle) Selection() cascade.Selection {
	return cascade.Selection{
		Category:  v.VehicleType,
		BrandCode: v.BrandCode,
		ModelCode: v.ModelCode,
		YearCode:  v.YearCode,
	}
}

// ApplyDetail copies names and the reference value from a resolved detail.
func (v *Vehicle) ApplyDetail(detail *domain.PricedDetail) {
	if detail == nil {
		return
	}
	v.BrandName = detail.BrandName
	v.ModelName = detail.ModelName
	v.ReferenceValue = strings.TrimSpace(detail.Value)
}

// ApplySelection copies codes and list names for the levels selected in the
// snapshot. Picking a year also sets the model year, except for zero-km
// entries whose year code carries the sentinel.
func (v *Vehicle) ApplySelection(snap cascade.Snapshot) {
	v.VehicleType = snap.Selection.Category
	v.BrandCode = snap.Selection.BrandCode
	v.ModelCode = snap.Selection.ModelCode
	v.YearCode = snap.Selection.YearCode

	v.BrandName = nameOf(snap.Brands, v.BrandCode, v.BrandName)
	v.ModelName = nameOf(snap.Models, v.ModelCode, v.ModelName)

	if v.YearCode != "" {
		year, _, err := domain.ParseYearCode(v.YearCode)
		if err != nil {
			log.Warnf("⚠️ Ignoring unreadable year code %q: %v", v.YearCode, err)
		} else if year != domain.ZeroKmYear {
			v.ModelYear = year
		}
	}
	if snap.Detail == nil {
		v.ReferenceValue = ""
	}
}

func nameOf(list []domain.CatalogReference, code, current string) string {
	if code == "" {
		return ""
	}
	if ref, ok := domain.FindReference(list, code); ok {
		return ref.Name
	}
	return current
}

// CanSubmit reports whether the manual fields are filled in. A missing
// reference value never blocks submission.
func (v *Vehicle) CanSubmit() error {
	var missing []string
	if !v.VehicleType.Valid() {
		missing = append(missing, "vehicle type")
	}
	if v.BrandCode == "" {
		missing = append(missing, "brand")
	}
	if v.ModelCode == "" {
		missing = append(missing, "model")
	}
	if v.ModelYear <= 0 {
		missing = append(missing, "model year")
	}
	if v.ManufactureYear <= 0 {
		missing = append(missing, "manufacture year")
	}
	if strings.TrimSpace(v.Value) == "" {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	if v.ModelYear != domain.ZeroKmYear && v.ManufactureYear > v.ModelYear {
		return fmt.Errorf("%w: manufacture year %d is after model year %d", ErrIncomplete, v.ManufactureYear, v.ModelYear)
	}
	if limit := time.Now().Year() + 1; v.ModelYear != domain.ZeroKmYear && v.ModelYear > limit {
		return fmt.Errorf("%w: model year %d is after %d", ErrIncomplete, v.ModelYear, limit)
	}
	return nil
}

// Binding keeps a Vehicle in step with a cascade controller.
type Binding struct {
	mu      sync.Mutex
	vehicle *Vehicle
	notices []cascade.Notice
	stop    func()
}

// Bind subscribes to the controller and applies every published snapshot to
// the vehicle.
func Bind(controller *cascade.Controller, vehicle *Vehicle) *Binding {
	b := &Binding{vehicle: vehicle}
	b.stop = controller.Subscribe(b.apply)
	return b
}

func (b *Binding) apply(snap cascade.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.vehicle.ApplySelection(snap)
	if snap.Detail != nil {
		b.vehicle.ApplyDetail(snap.Detail)
		log.Debugf("Applied reference %s to %s %s", snap.Detail.Value, snap.Detail.BrandName, snap.Detail.ModelName)
	}
	b.notices = append(b.notices[:0], snap.Notices...)
}

// Vehicle returns a copy of the bound vehicle.
func (b *Binding) Vehicle() Vehicle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.vehicle
}

// Notices returns the notices of the last applied snapshot.
func (b *Binding) Notices() []cascade.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cascade.Notice(nil), b.notices...)
}

func (b *Binding) Close() {
	b.stop()
}
