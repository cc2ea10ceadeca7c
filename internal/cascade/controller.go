package cascade

import (
	"context"
	"errors"
	"sort"
	"sync"

	"fipe/lookup/internal/client"
	"fipe/lookup/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Controller sequences the dependent catalog lookups behind a vehicle form.
//
// Every fetch carries a tag taken when it was triggered: the parent codes it
// was issued for and a per-stage ticket. A result is applied only while the
// tag still matches the live selection and the ticket is still the stage's
// outstanding one; anything else is dropped on arrival. All transitions and
// tag checks happen under mu, so there is exactly one writer at a time.
type Controller struct {
	catalog Catalog
	ctx     context.Context
	stop    context.CancelFunc

	mu         sync.Mutex
	state      state
	pending    map[domain.LookupStage]*tag
	restore    *tag
	nextTicket uint64
	version    uint64

	wg sync.WaitGroup

	notifyMu    sync.Mutex
	delivered   uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

type tag struct {
	stage  domain.LookupStage
	sel    Selection
	ticket uint64
	ctx    context.Context
	cancel context.CancelFunc
}

func New(ctx context.Context, catalog Catalog) *Controller {
	ctx, stop := context.WithCancel(ctx)
	return &Controller{
		catalog:     catalog,
		ctx:         ctx,
		stop:        stop,
		state:       newState(),
		pending:     make(map[domain.LookupStage]*tag),
		subscribers: make(map[int]func(Snapshot)),
	}
}

// SelectCategory clears every downstream level and fetches the brands.
func (c *Controller) SelectCategory(category domain.VehicleCategory) {
	c.mu.Lock()
	c.abortRestoreLocked()
	c.truncateLocked(domain.StageCategory)
	c.state.sel.Category = category

	var t *tag
	if category.Valid() {
		t = c.beginLocked(domain.StageBrand)
	} else if category != "" {
		log.Errorf("❌ Ignoring unsupported vehicle category %q", category)
		c.state.sel.Category = ""
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	if t != nil {
		run(c, t, func(ctx context.Context) ([]domain.CatalogReference, error) {
			return c.catalog.ListBrands(ctx, t.sel.Category)
		}, func(brands []domain.CatalogReference) {
			c.state.brands = brands
			c.state.phase = max(c.state.phase, PhaseBrandsLoaded)
		})
	}
}

// SelectBrand clears model, year and detail and fetches the brand's models.
// Selecting the current brand again re-runs the fetch.
func (c *Controller) SelectBrand(code string) {
	c.mu.Lock()
	if !c.state.sel.Category.Valid() {
		c.mu.Unlock()
		log.Errorf("❌ Brand %q selected before a vehicle category", code)
		return
	}
	c.abortRestoreLocked()
	c.truncateLocked(domain.StageBrand)
	c.state.sel.BrandCode = code

	var t *tag
	if code != "" {
		t = c.beginLocked(domain.StageModel)
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	if t != nil {
		run(c, t, func(ctx context.Context) ([]domain.CatalogReference, error) {
			return c.catalog.ListModels(ctx, t.sel.Category, t.sel.BrandCode)
		}, func(models []domain.CatalogReference) {
			c.state.models = models
			c.state.phase = max(c.state.phase, PhaseModelsLoaded)
		})
	}
}

// SelectModel clears year and detail and fetches the model's years.
func (c *Controller) SelectModel(code string) {
	c.mu.Lock()
	if c.state.sel.BrandCode == "" {
		c.mu.Unlock()
		log.Errorf("❌ Model %q selected before a brand", code)
		return
	}
	c.abortRestoreLocked()
	c.truncateLocked(domain.StageModel)
	c.state.sel.ModelCode = code

	var t *tag
	if code != "" {
		t = c.beginLocked(domain.StageYear)
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	if t != nil {
		run(c, t, func(ctx context.Context) ([]domain.CatalogReference, error) {
			return c.catalog.ListYears(ctx, t.sel.Category, t.sel.BrandCode, t.sel.ModelCode)
		}, func(years []domain.CatalogReference) {
			c.state.years = years
			c.state.phase = max(c.state.phase, PhaseYearsLoaded)
		})
	}
}

// SelectYear fetches the priced detail for the full selection.
func (c *Controller) SelectYear(code string) {
	c.mu.Lock()
	if c.state.sel.ModelCode == "" {
		c.mu.Unlock()
		log.Errorf("❌ Year %q selected before a model", code)
		return
	}
	c.abortRestoreLocked()
	c.truncateLocked(domain.StageYear)
	c.state.sel.YearCode = code

	var t *tag
	if code != "" {
		t = c.beginLocked(domain.StageDetail)
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	if t != nil {
		run(c, t, func(ctx context.Context) (*domain.PricedDetail, error) {
			return c.catalog.GetDetail(ctx, t.sel.Category, t.sel.BrandCode, t.sel.ModelCode, t.sel.YearCode)
		}, func(detail *domain.PricedDetail) {
			c.state.detail = detail
			c.state.phase = PhaseDetailResolved
		})
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every published snapshot, delivered in version
// order. fn runs on the goroutine that caused the change and must not call
// Select*, Restore or Subscribe.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.subscribers, id)
	}
}

// Wait blocks until every triggered fetch and restore has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels everything in flight. Late results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.abortRestoreLocked()
	for stage, t := range c.pending {
		t.cancel()
		delete(c.pending, stage)
	}
	c.mu.Unlock()

	c.stop()
}

// run performs fetch off the lock and applies its result if the tag is still current.
func run[T any](c *Controller, t *tag, fetch func(ctx context.Context) (T, error), apply func(T)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		result, err := fetch(t.ctx)

		c.mu.Lock()
		if !c.currentLocked(t) {
			c.mu.Unlock()
			log.Debugf("Discarding stale %s result for %+v", t.stage, t.sel)
			return
		}
		delete(c.pending, t.stage)
		t.cancel()

		if err != nil {
			c.failLocked(t.stage, err)
		} else {
			apply(result)
		}
		snap := c.changedLocked()
		c.mu.Unlock()

		c.publish(snap)
	}()
}

func (c *Controller) beginLocked(stage domain.LookupStage) *tag {
	if prev, ok := c.pending[stage]; ok {
		prev.cancel()
	}

	c.nextTicket++
	ctx, cancel := context.WithCancel(c.ctx)
	t := &tag{
		stage:  stage,
		sel:    c.state.sel.parentsOf(stage),
		ticket: c.nextTicket,
		ctx:    ctx,
		cancel: cancel,
	}
	c.pending[stage] = t
	delete(c.state.notices, stage)
	return t
}

func (c *Controller) currentLocked(t *tag) bool {
	outstanding, ok := c.pending[t.stage]
	return ok && outstanding.ticket == t.ticket && c.state.sel.parentsOf(t.stage) == t.sel
}

// truncateLocked clears the state below stage and cancels fetches feeding it.
func (c *Controller) truncateLocked(stage domain.LookupStage) {
	c.state.truncate(stage)
	for pendingStage, t := range c.pending {
		if pendingStage > stage {
			t.cancel()
			delete(c.pending, pendingStage)
		}
	}
}

func (c *Controller) abortRestoreLocked() {
	if c.restore != nil {
		log.Infof("🛑 Selection changed during restore, abandoning it")
		c.restore.cancel()
		c.restore = nil
	}
}

func (c *Controller) failLocked(stage domain.LookupStage, err error) {
	notice := noticeFor(stage, err)
	c.state.notices[stage] = notice
	log.Warnf("⚠️ FIPE %s lookup failed (%s): %v", stage, notice.Kind, err)
}

func noticeFor(stage domain.LookupStage, err error) Notice {
	notice := Notice{Stage: stage}

	var rateErr *client.RateLimitedError
	switch {
	case errors.As(err, &rateErr):
		notice.Kind = NoticeRateLimited
		notice.Message = rateErr.Error()
		notice.Remediation = rateErr.Remediation()
	case errors.Is(err, client.ErrNotFound) && stage == domain.StageDetail:
		notice.Kind = NoticeNoReference
		notice.Message = "No reference value is available for this vehicle. The proposal can still be submitted."
	case errors.Is(err, client.ErrNotFound):
		notice.Kind = NoticeNotFound
		notice.Message = "The catalog has no " + stage.String() + " options for this selection."
	default:
		notice.Kind = NoticeNetworkFailure
		notice.Message = "Could not reach the FIPE catalog. Select the previous field again to retry."
	}
	return notice
}

func (c *Controller) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	loading := make([]domain.LookupStage, 0, len(c.pending))
	for stage := range c.pending {
		loading = append(loading, stage)
	}
	sort.Slice(loading, func(i, j int) bool { return loading[i] < loading[j] })

	return c.state.snapshot(c.version, loading, c.restore != nil)
}

func (c *Controller) publish(snap Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version

	ids := make([]int, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c.subscribers[id](snap)
	}
}
