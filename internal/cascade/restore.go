package cascade

import (
	"context"
	"fmt"

	"fipe/lookup/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Restore replays a previously saved selection (edit mode): brands, models,
// years and, when a year was saved, the detail. Each saved code is checked
// against the list fetched for its level. Nothing is published until the
// replay finishes, so the form never sees the intermediate empty levels. The
// committed state keeps everything verified before the first failure. Any
// Select* call made meanwhile abandons the restore.
func (c *Controller) Restore(saved Selection) {
	c.mu.Lock()
	c.abortRestoreLocked()
	for stage, t := range c.pending {
		t.cancel()
		delete(c.pending, stage)
	}

	c.nextTicket++
	ctx, cancel := context.WithCancel(c.ctx)
	r := &tag{
		stage:  domain.StageCategory,
		sel:    saved,
		ticket: c.nextTicket,
		ctx:    ctx,
		cancel: cancel,
	}
	c.restore = r
	c.mu.Unlock()

	log.Infof("🔄 Restoring saved selection %+v", saved)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		restored := c.replay(ctx, saved)

		c.mu.Lock()
		if c.restore == nil || c.restore.ticket != r.ticket {
			c.mu.Unlock()
			log.Debugf("Discarding abandoned restore of %+v", saved)
			return
		}
		c.restore = nil
		c.state = restored
		snap := c.changedLocked()
		c.mu.Unlock()

		log.Infof("✅ Restored selection up to phase %s", snap.Phase)
		c.publish(snap)
	}()
}

// replay walks the levels in order and stops at the first one it cannot verify.
func (c *Controller) replay(ctx context.Context, saved Selection) state {
	s := newState()
	if !saved.Category.Valid() {
		return s
	}
	s.sel.Category = saved.Category

	brands, err := c.catalog.ListBrands(ctx, saved.Category)
	if err != nil {
		s.notices[domain.StageBrand] = noticeFor(domain.StageBrand, err)
		return s
	}
	s.brands = brands
	s.phase = PhaseBrandsLoaded
	if !s.adopt(domain.StageBrand, brands, saved.BrandCode) {
		return s
	}

	models, err := c.catalog.ListModels(ctx, saved.Category, saved.BrandCode)
	if err != nil {
		s.notices[domain.StageModel] = noticeFor(domain.StageModel, err)
		return s
	}
	s.models = models
	s.phase = PhaseModelsLoaded
	if !s.adopt(domain.StageModel, models, saved.ModelCode) {
		return s
	}

	years, err := c.catalog.ListYears(ctx, saved.Category, saved.BrandCode, saved.ModelCode)
	if err != nil {
		s.notices[domain.StageYear] = noticeFor(domain.StageYear, err)
		return s
	}
	s.years = years
	s.phase = PhaseYearsLoaded
	if !s.adopt(domain.StageYear, years, saved.YearCode) {
		return s
	}

	detail, err := c.catalog.GetDetail(ctx, saved.Category, saved.BrandCode, saved.ModelCode, saved.YearCode)
	if err != nil {
		s.notices[domain.StageDetail] = noticeFor(domain.StageDetail, err)
		return s
	}
	s.detail = detail
	s.phase = PhaseDetailResolved
	return s
}

// adopt selects code at stage if the fetched list contains it. An empty saved
// code ends the replay quietly.
func (s *state) adopt(stage domain.LookupStage, list []domain.CatalogReference, code string) bool {
	if code == "" {
		return false
	}
	if _, ok := domain.FindReference(list, code); !ok {
		log.Warnf("⚠️ Saved %s %q is no longer in the catalog", stage, code)
		s.notices[stage] = Notice{
			Stage:   stage,
			Kind:    NoticeNotFound,
			Message: fmt.Sprintf("The saved %s is no longer listed in the catalog. Select it again.", stage),
		}
		return false
	}

	switch stage {
	case domain.StageBrand:
		s.sel.BrandCode = code
	case domain.StageModel:
		s.sel.ModelCode = code
	case domain.StageYear:
		s.sel.YearCode = code
	}
	return true
}
