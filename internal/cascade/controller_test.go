package cascade

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"fipe/lookup/internal/client"
	"fipe/lookup/internal/domain"
)

func newController(t *testing.T, catalog Catalog) *Controller {
	t.Helper()
	c := New(context.Background(), catalog)
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return c
}

// captureTrigger returns the snapshot published synchronously by a selection
// call, before its fetch can land.
func captureTrigger(c *Controller, selectFn func()) Snapshot {
	var (
		mu    sync.Mutex
		first *Snapshot
	)
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = &s
		}
	})
	selectFn()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	return *first
}

func resolveNivus(t *testing.T, c *Controller) {
	t.Helper()
	c.SelectCategory(domain.VehicleCategoryCar)
	c.Wait()
	c.SelectBrand("21")
	c.Wait()
	c.SelectModel("5940")
	c.Wait()
	c.SelectYear("2023-1")
	c.Wait()
}

func TestForwardCascade(t *testing.T) {
	c := newController(t, newStaticCatalog())

	if snap := c.Snapshot(); snap.Phase != PhaseIdle || snap.Selection != (Selection{}) {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	c.SelectCategory(domain.VehicleCategoryCar)
	c.Wait()
	snap := c.Snapshot()
	if snap.Phase != PhaseBrandsLoaded || len(snap.Brands) != 2 || len(snap.Loading) != 0 {
		t.Fatalf("after category: %+v", snap)
	}

	c.SelectBrand("21")
	c.Wait()
	snap = c.Snapshot()
	if snap.Phase != PhaseModelsLoaded || !reflect.DeepEqual(snap.Models, []domain.CatalogReference{nivus, polo}) {
		t.Fatalf("after brand: %+v", snap)
	}

	c.SelectModel("5940")
	c.Wait()
	snap = c.Snapshot()
	if snap.Phase != PhaseYearsLoaded || !reflect.DeepEqual(snap.Years, []domain.CatalogReference{year2023}) {
		t.Fatalf("after model: %+v", snap)
	}

	c.SelectYear("2023-1")
	c.Wait()
	snap = c.Snapshot()
	if snap.Phase != PhaseDetailResolved || !reflect.DeepEqual(snap.Detail, nivusDetail) {
		t.Fatalf("after year: %+v", snap)
	}
	want := Selection{Category: domain.VehicleCategoryCar, BrandCode: "21", ModelCode: "5940", YearCode: "2023-1"}
	if snap.Selection != want {
		t.Errorf("selection = %+v, want %+v", snap.Selection, want)
	}
}

func TestSelectionChangeTruncatesDownstream(t *testing.T) {
	c := newController(t, newStaticCatalog())
	resolveNivus(t, c)

	snap := captureTrigger(c, func() { c.SelectBrand("59") })
	if !snap.IsLoading(domain.StageModel) {
		t.Errorf("expected models loading, got %v", snap.Loading)
	}
	if snap.Phase != PhaseBrandsLoaded {
		t.Errorf("phase = %s, want brands_loaded", snap.Phase)
	}
	if snap.Selection.ModelCode != "" || snap.Selection.YearCode != "" {
		t.Errorf("selection not truncated: %+v", snap.Selection)
	}
	if len(snap.Models) != 0 || len(snap.Years) != 0 || snap.Detail != nil {
		t.Errorf("downstream not cleared: %+v", snap)
	}
	if len(snap.Brands) != 2 {
		t.Errorf("brand options should survive a brand change, got %v", snap.Brands)
	}

	c.Wait()
	if snap := c.Snapshot(); !reflect.DeepEqual(snap.Models, []domain.CatalogReference{argo}) {
		t.Errorf("models = %v, want FIAT models", snap.Models)
	}

	snap = captureTrigger(c, func() { c.SelectCategory(domain.VehicleCategoryCar) })
	if snap.Phase != PhaseIdle || snap.Selection.BrandCode != "" || len(snap.Brands) != 0 {
		t.Errorf("category change did not reset: %+v", snap)
	}
	c.Wait()
}

func TestYearChangeClearsOnlyDetail(t *testing.T) {
	c := newController(t, newStaticCatalog())
	resolveNivus(t, c)

	c.SelectYear("2022-1")
	snap := c.Snapshot()
	if snap.Detail != nil || snap.Phase != PhaseYearsLoaded || len(snap.Years) != 1 {
		t.Fatalf("after year change: %+v", snap)
	}
	c.Wait()
}

func TestStaleModelsAreDiscarded(t *testing.T) {
	for _, order := range []string{"stale-first", "stale-last"} {
		t.Run(order, func(t *testing.T) {
			catalog := newGatedCatalog()
			catalog.ignoreCancel = true
			c := newController(t, catalog)

			c.SelectCategory(domain.VehicleCategoryCar)
			catalog.next(t).reply <- gatedReply{list: []domain.CatalogReference{volkswagen, fiat}}
			c.Wait()

			c.SelectBrand("21")
			callA := catalog.next(t)
			c.SelectBrand("59")
			callB := catalog.next(t)

			if callA.sel.BrandCode != "21" || callB.sel.BrandCode != "59" {
				t.Fatalf("unexpected calls %+v %+v", callA.sel, callB.sel)
			}

			replyA := gatedReply{list: []domain.CatalogReference{nivus, polo}}
			replyB := gatedReply{list: []domain.CatalogReference{argo}}
			if order == "stale-first" {
				callA.reply <- replyA
				callB.reply <- replyB
			} else {
				callB.reply <- replyB
				callA.reply <- replyA
			}
			c.Wait()

			snap := c.Snapshot()
			if !reflect.DeepEqual(snap.Models, []domain.CatalogReference{argo}) {
				t.Fatalf("models = %v, want only brand 59's", snap.Models)
			}
			if snap.Selection.BrandCode != "59" || snap.Phase != PhaseModelsLoaded {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

func TestStaleFailureDoesNotOverrideFreshResult(t *testing.T) {
	catalog := newGatedCatalog()
	catalog.ignoreCancel = true
	c := newController(t, catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	first := catalog.next(t)
	c.SelectCategory(domain.VehicleCategoryCar) // reattempt
	second := catalog.next(t)

	second.reply <- gatedReply{list: []domain.CatalogReference{volkswagen}}
	first.reply <- gatedReply{err: &client.RateLimitedError{Attempts: 3}}
	c.Wait()

	snap := c.Snapshot()
	if len(snap.Brands) != 1 || len(snap.Notices) != 0 {
		t.Fatalf("snapshot = %+v, want fresh brands and no notice", snap)
	}
}

func TestCategoryChangeDiscardsPendingBrands(t *testing.T) {
	catalog := newGatedCatalog()
	catalog.ignoreCancel = true
	c := newController(t, catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	cars := catalog.next(t)
	c.SelectCategory(domain.VehicleCategoryMotorcycle)
	motos := catalog.next(t)

	honda := domain.CatalogReference{Code: "80", Name: "HONDA"}
	motos.reply <- gatedReply{list: []domain.CatalogReference{honda}}
	cars.reply <- gatedReply{list: []domain.CatalogReference{volkswagen, fiat}}
	c.Wait()

	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Brands, []domain.CatalogReference{honda}) {
		t.Fatalf("brands = %v, want motorcycle brands", snap.Brands)
	}
}

func TestSupersededFetchIsCancelled(t *testing.T) {
	catalog := newGatedCatalog()
	c := newController(t, catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	catalog.next(t).reply <- gatedReply{list: []domain.CatalogReference{volkswagen, fiat}}
	c.Wait()

	c.SelectBrand("21")
	catalog.next(t) // never answered; must unblock through cancellation
	if snap := c.Snapshot(); !snap.IsLoading(domain.StageModel) || snap.Phase != PhaseBrandsLoaded {
		t.Fatalf("while loading: %+v", snap)
	}
	c.SelectBrand("59")
	catalog.next(t).reply <- gatedReply{list: []domain.CatalogReference{argo}}
	c.Wait()

	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Models, []domain.CatalogReference{argo}) || len(snap.Notices) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestListFailureLeavesStageEmptyWithNotice(t *testing.T) {
	catalog := newStaticCatalog()
	c := newController(t, catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	c.Wait()

	catalog.setErr(domain.StageModel, &client.RateLimitedError{Attempts: 3, Credentialed: false})
	c.SelectBrand("21")
	c.Wait()

	snap := c.Snapshot()
	if len(snap.Models) != 0 || snap.Phase != PhaseBrandsLoaded {
		t.Fatalf("snapshot = %+v", snap)
	}
	notice, ok := snap.Notice(domain.StageModel)
	if !ok || notice.Kind != NoticeRateLimited || notice.Remediation == "" {
		t.Fatalf("notice = %+v, %v", notice, ok)
	}
	if len(snap.Notices) != 1 {
		t.Errorf("notices = %+v, want exactly one", snap.Notices)
	}
	if catalog.callCount(domain.StageModel) != 1 {
		t.Errorf("controller retried on its own: %d calls", catalog.callCount(domain.StageModel))
	}

	// Re-selecting the parent level is the reattempt path.
	catalog.setErr(domain.StageModel, nil)
	c.SelectBrand("21")
	c.Wait()

	snap = c.Snapshot()
	if len(snap.Models) != 2 || len(snap.Notices) != 0 {
		t.Fatalf("after reattempt: %+v", snap)
	}
}

func TestNetworkFailureNotice(t *testing.T) {
	catalog := newStaticCatalog()
	catalog.setErr(domain.StageBrand, client.ErrNetworkFailure)
	c := newController(t, catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	c.Wait()

	snap := c.Snapshot()
	notice, ok := snap.Notice(domain.StageBrand)
	if !ok || notice.Kind != NoticeNetworkFailure {
		t.Fatalf("notice = %+v, %v", notice, ok)
	}
	if snap.Phase != PhaseIdle || len(snap.Brands) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDetailNotFoundIsAdvisory(t *testing.T) {
	c := newController(t, newStaticCatalog())

	c.SelectCategory(domain.VehicleCategoryCar)
	c.Wait()
	c.SelectBrand("21")
	c.Wait()
	c.SelectModel("5940")
	c.Wait()
	c.SelectYear("1999-1")
	c.Wait()

	snap := c.Snapshot()
	if snap.Detail != nil || snap.Phase != PhaseYearsLoaded {
		t.Fatalf("snapshot = %+v", snap)
	}
	notice, ok := snap.Notice(domain.StageDetail)
	if !ok || notice.Kind != NoticeNoReference {
		t.Fatalf("notice = %+v, %v", notice, ok)
	}
	if snap.Selection.YearCode != "1999-1" {
		t.Errorf("year selection lost: %+v", snap.Selection)
	}
}

func TestOutOfOrderSelectionsAreIgnored(t *testing.T) {
	catalog := newStaticCatalog()
	c := newController(t, catalog)

	c.SelectBrand("21")
	c.SelectModel("5940")
	c.SelectYear("2023-1")
	c.SelectCategory(domain.VehicleCategory("boat"))
	c.Wait()

	snap := c.Snapshot()
	if snap.Selection != (Selection{}) || snap.Phase != PhaseIdle {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, stage := range domain.LookupStages {
		if n := catalog.callCount(stage); n != 0 {
			t.Errorf("%s fetched %d times", stage, n)
		}
	}
}

func TestSubscribersReceiveOrderedSnapshots(t *testing.T) {
	c := newController(t, newStaticCatalog())

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, s.Version)
	})

	resolveNivus(t, c)
	unsubscribe()
	c.SelectBrand("59")
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(versions) != 8 {
		t.Fatalf("got %d snapshots, want 8 (trigger and result per level)", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions out of order: %v", versions)
		}
	}
}

func TestCloseDiscardsInFlight(t *testing.T) {
	catalog := newGatedCatalog()
	c := New(context.Background(), catalog)

	c.SelectCategory(domain.VehicleCategoryCar)
	catalog.next(t)
	c.Close()
	c.Wait()

	snap := c.Snapshot()
	if len(snap.Loading) != 0 || len(snap.Notices) != 0 || len(snap.Brands) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
