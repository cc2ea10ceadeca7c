package cascade

import (
	"reflect"
	"sync"
	"testing"

	"fipe/lookup/internal/client"
	"fipe/lookup/internal/domain"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

var savedNivus = Selection{
	Category:  domain.VehicleCategoryCar,
	BrandCode: "21",
	ModelCode: "5940",
	YearCode:  "2023-1",
}

func TestRestorePublishesOnce(t *testing.T) {
	c := newController(t, newStaticCatalog())
	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Restore(savedNivus)
	c.Wait()

	snaps := rec.all()
	if len(snaps) != 1 {
		t.Fatalf("published %d snapshots, want exactly 1: %+v", len(snaps), snaps)
	}
	snap := snaps[0]
	if snap.Phase != PhaseDetailResolved || snap.Restoring {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Selection != savedNivus {
		t.Errorf("selection = %+v", snap.Selection)
	}
	if len(snap.Brands) != 2 || len(snap.Models) != 2 || len(snap.Years) != 1 {
		t.Errorf("lists not restored: %+v", snap)
	}
	if !reflect.DeepEqual(snap.Detail, nivusDetail) {
		t.Errorf("detail = %+v", snap.Detail)
	}
}

func TestRestoreWithoutYear(t *testing.T) {
	catalog := newStaticCatalog()
	c := newController(t, catalog)

	saved := savedNivus
	saved.YearCode = ""
	c.Restore(saved)
	c.Wait()

	snap := c.Snapshot()
	if snap.Phase != PhaseYearsLoaded || snap.Detail != nil || len(snap.Notices) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if catalog.callCount(domain.StageDetail) != 0 {
		t.Error("detail fetched without a saved year")
	}
}

func TestRestoreStopsAtMissingCode(t *testing.T) {
	catalog := newStaticCatalog()
	c := newController(t, catalog)

	saved := savedNivus
	saved.ModelCode = "9999"
	c.Restore(saved)
	c.Wait()

	snap := c.Snapshot()
	if snap.Phase != PhaseModelsLoaded {
		t.Errorf("phase = %s", snap.Phase)
	}
	want := Selection{Category: domain.VehicleCategoryCar, BrandCode: "21"}
	if snap.Selection != want {
		t.Errorf("selection = %+v, want %+v", snap.Selection, want)
	}
	notice, ok := snap.Notice(domain.StageModel)
	if !ok || notice.Kind != NoticeNotFound {
		t.Errorf("notice = %+v, %v", notice, ok)
	}
	if catalog.callCount(domain.StageYear) != 0 {
		t.Error("years fetched for a model that is not listed")
	}
}

func TestRestoreKeepsProgressOnFailure(t *testing.T) {
	catalog := newStaticCatalog()
	catalog.setErr(domain.StageYear, &client.RateLimitedError{Attempts: 3, Credentialed: true})
	c := newController(t, catalog)

	c.Restore(savedNivus)
	c.Wait()

	snap := c.Snapshot()
	if snap.Phase != PhaseModelsLoaded || len(snap.Models) != 2 || len(snap.Years) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Selection.ModelCode != "5940" {
		t.Errorf("verified model lost: %+v", snap.Selection)
	}
	if notice, ok := snap.Notice(domain.StageYear); !ok || notice.Kind != NoticeRateLimited {
		t.Errorf("notice = %+v, %v", notice, ok)
	}
}

func TestRestoreDetailNotFoundIsAdvisory(t *testing.T) {
	catalog := newStaticCatalog()
	catalog.years["5940"] = append(catalog.years["5940"], domain.CatalogReference{Code: "2022-1", Name: "2022 Flex"})
	c := newController(t, catalog)

	saved := savedNivus
	saved.YearCode = "2022-1"
	c.Restore(saved)
	c.Wait()

	snap := c.Snapshot()
	if snap.Phase != PhaseYearsLoaded || snap.Selection != saved {
		t.Fatalf("snapshot = %+v", snap)
	}
	if notice, ok := snap.Notice(domain.StageDetail); !ok || notice.Kind != NoticeNoReference {
		t.Errorf("notice = %+v, %v", notice, ok)
	}
}

func TestSelectionDuringRestoreWins(t *testing.T) {
	catalog := newGatedCatalog()
	c := newController(t, catalog)

	c.Restore(savedNivus)
	restoreCall := catalog.next(t)
	if restoreCall.stage != domain.StageBrand {
		t.Fatalf("first restore call = %s", restoreCall.stage)
	}
	if !c.Snapshot().Restoring {
		t.Error("expected restoring flag while replaying")
	}

	c.SelectCategory(domain.VehicleCategoryMotorcycle)
	userCall := catalog.next(t)
	honda := domain.CatalogReference{Code: "80", Name: "HONDA"}
	userCall.reply <- gatedReply{list: []domain.CatalogReference{honda}}
	c.Wait()

	snap := c.Snapshot()
	if snap.Restoring || snap.Selection.Category != domain.VehicleCategoryMotorcycle {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !reflect.DeepEqual(snap.Brands, []domain.CatalogReference{honda}) || len(snap.Notices) != 0 {
		t.Errorf("restore leaked into user selection: %+v", snap)
	}
}

func TestRestoreInvalidCategory(t *testing.T) {
	catalog := newStaticCatalog()
	c := newController(t, catalog)

	c.Restore(Selection{BrandCode: "21"})
	c.Wait()

	snap := c.Snapshot()
	if snap.Phase != PhaseIdle || snap.Selection != (Selection{}) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if catalog.callCount(domain.StageBrand) != 0 {
		t.Error("brands fetched without a category")
	}
}
