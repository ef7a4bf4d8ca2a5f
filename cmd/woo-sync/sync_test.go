package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/internal/storefront"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

type fakeSyncer struct {
	mu      sync.Mutex
	seen    []string
	actions map[string]orders.Outcome
	failing map[string]bool
}

func (f *fakeSyncer) SyncStorefrontOrder(_ context.Context, _ uuid.UUID, order *storefront.Order) (*orders.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := order.ID.String()
	f.seen = append(f.seen, id)
	if f.failing[id] {
		return nil, errors.New("boom")
	}
	action, ok := f.actions[id]
	if !ok {
		action = orders.OutcomeCreated
	}
	return &orders.Result{Action: action, OrderNumber: id}, nil
}

// storefrontServer serves one listing page per entry in pages.
func storefrontServer(t *testing.T, pages [][]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 || page > len(pages) {
			_, _ = w.Write([]byte("[]"))
			return
		}
		w.Header().Set("X-WP-TotalPages", strconv.Itoa(len(pages)))
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, id := range pages[page-1] {
			if i > 0 {
				buf.WriteString(",")
			}
			fmt.Fprintf(&buf, `{"id":%d,"status":"processing","total":"10.00","line_items":[]}`, id)
		}
		buf.WriteString("]")
		_, _ = w.Write(buf.Bytes())
	}))
}

func newRunner(t *testing.T, srv *httptest.Server, syncer orderSyncer) *syncRunner {
	t.Helper()
	client, err := storefront.NewClient(srv.URL, "ck", "cs", storefront.WithHTTPClient(srv.Client()), storefront.WithRateLimit(0))
	require.NoError(t, err)
	return &syncRunner{
		lister: client,
		syncer: syncer,
		logg:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func TestSyncRunnerPagesAndTallies(t *testing.T) {
	srv := storefrontServer(t, [][]int{{1, 2, 3}, {4, 5}})
	defer srv.Close()

	syncer := &fakeSyncer{
		actions: map[string]orders.Outcome{"2": orders.OutcomeUpdated, "3": orders.OutcomeSkipped},
		failing: map[string]bool{"5": true},
	}
	summary, err := newRunner(t, srv, syncer).Run(context.Background(), syncOptions{OrgID: uuid.New(), Concurrency: 2})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, syncer.seen)
	assert.Equal(t, 5, summary.Fetched)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Error(t, summary.Err())
	assert.Contains(t, summary.Err().Error(), "order 5")

	var out bytes.Buffer
	summary.Print(&out, false)
	assert.Equal(t, "fetched=5 created=2 updated=1 skipped=1 failed=1\n", out.String())
}

func TestSyncRunnerDryRunWritesNothing(t *testing.T) {
	srv := storefrontServer(t, [][]int{{1, 2}})
	defer srv.Close()

	syncer := &fakeSyncer{}
	summary, err := newRunner(t, srv, syncer).Run(context.Background(), syncOptions{OrgID: uuid.New(), DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, syncer.seen)
	assert.Equal(t, 2, summary.Fetched)

	var out bytes.Buffer
	summary.Print(&out, true)
	assert.Contains(t, out.String(), "dry run: 2 orders fetched")
}

func TestSyncRunnerStopsOnListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newRunner(t, srv, &fakeSyncer{}).Run(context.Background(), syncOptions{OrgID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
}

func TestResolveAfter(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	got, err := resolveAfter("2026-03-05T10:00:00Z", "2026-03-01T00:00:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), got)

	got, err = resolveAfter("2026-03-05T10:00:00", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), got)

	got, err = resolveAfter("", "2026-03-01T08:30:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), got)

	got, err = resolveAfter("", "", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-defaultLookback), got)

	_, err = resolveAfter("yesterday", "", now)
	assert.Error(t, err)
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"status", "after", "dry-run", "concurrency"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, strconv.Itoa(defaultConcurrency), cmd.Flags().Lookup("concurrency").DefValue)
}
