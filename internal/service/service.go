package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fipe/lookup/internal/cascade"
	"fipe/lookup/internal/domain"
	"fipe/lookup/internal/queue"
	"fipe/lookup/internal/repository"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrLookupIncomplete marks a lookup cut short by a rate limit or network
	// failure; running it again later can succeed.
	ErrLookupIncomplete = errors.New("reference lookup did not complete")
	// ErrLookupUnresolvable marks a saved selection the catalog cannot resolve.
	ErrLookupUnresolvable = errors.New("saved selection cannot be resolved")
)

// Catalog is the lookup surface the service needs from the FIPE client.
type Catalog interface {
	cascade.Catalog
	Ping(ctx context.Context, category domain.VehicleCategory) error
}

type Service struct {
	repository  repository.ProposalRepository
	catalog     Catalog
	queue       queue.Queue
	maxWorkers  int
	maxRetries  int
	minIdleTime time.Duration
}

// NewService wires the refresh flow. queue may be nil, in which case only the
// direct Refresh and RefreshAll paths are available.
func NewService(
	repository repository.ProposalRepository,
	catalog Catalog,
	queue queue.Queue,
	maxWorkers int,
	maxRetries int,
	minIdleTime int,
) *Service {
	idle := time.Duration(minIdleTime) * time.Second
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	return &Service{
		repository:  repository,
		catalog:     catalog,
		queue:       queue,
		maxWorkers:  max(1, maxWorkers),
		maxRetries:  maxRetries,
		minIdleTime: idle,
	}
}

// Probe checks that the catalog answers for every vehicle category.
func (s *Service) Probe(ctx context.Context) error {
	errGroup, ctx := errgroup.WithContext(ctx)

	for _, category := range domain.VehicleCategories {
		category := category
		errGroup.Go(func() error {
			if err := s.catalog.Ping(ctx, category); err != nil {
				log.Errorf("❌ FIPE catalog unreachable for %s: %v", category.GetCategoryName(), err)
				return fmt.Errorf("probe %s: %w", category, err)
			}
			log.Infof("✅ FIPE catalog reachable for %s", category.GetCategoryName())
			return nil
		})
	}

	return errGroup.Wait()
}

// Lookup replays a saved selection through a fresh cascade and returns the
// settled snapshot.
func (s *Service) Lookup(ctx context.Context, sel cascade.Selection) cascade.Snapshot {
	controller := cascade.New(ctx, s.catalog)
	defer controller.Close()

	controller.Restore(sel)
	controller.Wait()

	return controller.Snapshot()
}

// Refresh re-resolves the reference value of a saved proposal and stores it.
// A vehicle without a catalog reference is left untouched.
func (s *Service) Refresh(ctx context.Context, id int64) error {
	vehicle, err := s.repository.GetVehicle(ctx, id)
	if err != nil {
		return err
	}

	log.Infof("🔄 Refreshing reference for proposal %d (%s %s/%s/%s)",
		id, vehicle.VehicleType, vehicle.BrandCode, vehicle.ModelCode, vehicle.YearCode)

	snap := s.Lookup(ctx, vehicle.Selection())
	if snap.Detail == nil {
		if notice, ok := snap.Notice(domain.StageDetail); ok && notice.Kind == cascade.NoticeNoReference {
			log.Warnf("⚠️ Proposal %d has no FIPE reference: %s", id, notice.Message)
			return nil
		}
		if transient(snap) {
			return fmt.Errorf("%w for proposal %d: %s", ErrLookupIncomplete, id, describe(snap))
		}
		return fmt.Errorf("%w for proposal %d: %s", ErrLookupUnresolvable, id, describe(snap))
	}

	vehicle.ApplyDetail(snap.Detail)
	if err := s.repository.SaveReference(ctx, id, vehicle); err != nil {
		return err
	}

	log.Infof("✅ Proposal %d: %s %s = %s (%s)",
		id, vehicle.BrandName, vehicle.ModelName, vehicle.ReferenceValue, snap.Detail.ReferenceMonth)
	return nil
}

// RefreshAll refreshes proposals with at most maxWorkers in flight. One
// failing proposal does not stop the others.
func (s *Service) RefreshAll(ctx context.Context, ids []int64) error {
	var (
		errGroup  errgroup.Group
		refreshed atomic.Int64
		errs      = make([]error, len(ids))
	)
	errGroup.SetLimit(s.maxWorkers)

	for i, id := range ids {
		i, id := i, id
		errGroup.Go(func() error {
			if err := s.Refresh(ctx, id); err != nil {
				log.Errorf("❌ Failed to refresh proposal %d: %v", id, err)
				errs[i] = err
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	errGroup.Wait()

	log.Infof("✅ Refreshed %d/%d proposals", refreshed.Load(), len(ids))
	return errors.Join(errs...)
}

// transient reports whether the lookup stopped on a rate limit or network
// failure. Notices are ordered by stage, so the last one is where it stopped.
func transient(snap cascade.Snapshot) bool {
	if len(snap.Notices) == 0 {
		return false
	}
	switch snap.Notices[len(snap.Notices)-1].Kind {
	case cascade.NoticeRateLimited, cascade.NoticeNetworkFailure:
		return true
	}
	return false
}

func describe(snap cascade.Snapshot) string {
	if len(snap.Notices) == 0 {
		return fmt.Sprintf("stopped at %s", snap.Phase)
	}
	n := snap.Notices[len(snap.Notices)-1]
	if n.Remediation != "" {
		return fmt.Sprintf("%s %s", n.Message, n.Remediation)
	}
	return n.Message
}
