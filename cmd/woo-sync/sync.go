package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/internal/storefront"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

const (
	defaultLookback    = 30 * 24 * time.Hour
	defaultConcurrency = 4
	pageSize           = 100
	storefrontLayout   = "2006-01-02T15:04:05"
)

type orderLister interface {
	ListOrders(ctx context.Context, params storefront.ListOrdersParams) (*storefront.OrdersPage, error)
}

type orderSyncer interface {
	SyncStorefrontOrder(ctx context.Context, orgID uuid.UUID, order *storefront.Order) (*orders.Result, error)
}

type syncOptions struct {
	OrgID       uuid.UUID
	Status      string
	After       time.Time
	DryRun      bool
	Concurrency int
}

// syncSummary tallies per-order outcomes for one run.
type syncSummary struct {
	mu      sync.Mutex
	Fetched int
	Created int
	Updated int
	Skipped int
	Failed  int
	errs    error
}

func (s *syncSummary) record(order *storefront.Order, result *orders.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Failed++
		s.errs = multierr.Append(s.errs, fmt.Errorf("order %s: %w", order.DisplayNumber(), err))
		return
	}
	switch result.Action {
	case orders.OutcomeCreated:
		s.Created++
	case orders.OutcomeUpdated:
		s.Updated++
	default:
		s.Skipped++
	}
}

// Err returns every per-order failure combined, or nil.
func (s *syncSummary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

func (s *syncSummary) Print(w io.Writer, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "dry run: %d orders fetched, nothing written\n", s.Fetched)
		return
	}
	fmt.Fprintf(w, "fetched=%d created=%d updated=%d skipped=%d failed=%d\n",
		s.Fetched, s.Created, s.Updated, s.Skipped, s.Failed)
}

type syncRunner struct {
	lister orderLister
	syncer orderSyncer
	logg   *logger.Logger
}

// Run pages through the storefront listing and syncs every order. A failed
// order is counted and reported without stopping the run; a failed page
// aborts it.
func (r *syncRunner) Run(ctx context.Context, opts syncOptions) (*syncSummary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	summary := &syncSummary{}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"org_id":  opts.OrgID.String(),
		"status":  opts.Status,
		"after":   opts.After.UTC().Format(storefrontLayout),
		"dry_run": opts.DryRun,
	})

	for page := 1; ; page++ {
		result, err := r.lister.ListOrders(ctx, storefront.ListOrdersParams{
			Status:        opts.Status,
			ModifiedAfter: opts.After,
			Page:          page,
			PerPage:       pageSize,
		})
		if err != nil {
			return summary, fmt.Errorf("list storefront orders page %d: %w", page, err)
		}
		summary.Fetched += len(result.Orders)
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{"page": page, "orders": len(result.Orders)}), "fetched storefront page")

		if !opts.DryRun {
			r.syncPage(ctx, opts.OrgID, result.Orders, concurrency, summary)
		}
		if !result.HasMore(pageSize) {
			break
		}
	}
	return summary, ctx.Err()
}

func (r *syncRunner) syncPage(ctx context.Context, orgID uuid.UUID, page []storefront.Order, concurrency int, summary *syncSummary) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range page {
		order := &page[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result, err := r.syncer.SyncStorefrontOrder(gctx, orgID, order)
			if err != nil {
				r.logg.Error(r.logg.WithField(gctx, "external_id", order.ID.String()), "storefront order sync failed", err)
			}
			summary.record(order, result, err)
			return nil
		})
	}
	_ = g.Wait()
}

// resolveAfter picks the listing lower bound: the explicit flag, then the
// newest stamp already synced, then a fixed lookback.
func resolveAfter(flag, latest string, now time.Time) (time.Time, error) {
	if flag != "" {
		if t, err := time.Parse(time.RFC3339, flag); err == nil {
			return t, nil
		}
		t, err := time.Parse(storefrontLayout, flag)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --after %q: use RFC3339 or %s", flag, storefrontLayout)
		}
		return t, nil
	}
	if latest != "" {
		if t, err := time.Parse(storefrontLayout, latest); err == nil {
			return t, nil
		}
	}
	return now.Add(-defaultLookback), nil
}
