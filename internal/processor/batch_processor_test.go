package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/liquidity"
	"github.com/kikokaraba/srei-sub000/internal/models"
	"github.com/kikokaraba/srei-sub000/internal/queue"
)

func setupProcessor(t *testing.T) (*gorm.DB, *BatchProcessor, *queue.PassQueue) {
	t.Helper()
	db := setupTestDB(t)
	cfg := config.Default()
	cfg.BatchProcessing.ProcessorCount = 2
	logger := quietLogger()

	ingestor := NewIngestor(db, cfg, config.DefaultLocations(), logger)
	monitor := liquidity.NewMonitor(db, cfg, logger)
	passQueue := queue.NewPassQueue(cfg.BatchProcessing.QueueSize, logger)
	return db, NewBatchProcessor(db, passQueue, ingestor, monitor, cfg, logger), passQueue
}

// unit returns a listing that fingerprints differently for every area
func unit(source, id, area string) models.RawListing {
	raw := rawListing(source, id, "180 000 €")
	raw.Area = area
	return raw
}

func batches(items ...models.Batch) <-chan models.Batch {
	ch := make(chan models.Batch, len(items))
	for _, item := range items {
		ch <- item
	}
	close(ch)
	return ch
}

func TestProcessPassCounts(t *testing.T) {
	db, processor, _ := setupProcessor(t)

	pass, err := processor.ProcessPass(context.Background(), "nehnutelnosti", batches(
		models.Batch{Listings: []models.RawListing{
			unit("nehnutelnosti", "A-1", "48 m2"),
			unit("nehnutelnosti", "A-2", "72 m2"),
		}},
		models.Batch{Listings: []models.RawListing{
			rawListing("nehnutelnosti", "A-3", "5 €"),
		}},
	), PassOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.PassCompleted, pass.Status)
	assert.Equal(t, 3, pass.Found)
	assert.Equal(t, 2, pass.New)
	assert.Equal(t, 1, pass.Errors)
	assert.NotNil(t, pass.FinishedAt)

	ledger, err := database.IngestErrors(db, pass.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "VALIDATION_ERROR", ledger[0].Kind)
	assert.Equal(t, "A-3", ledger[0].ExternalID)
	assert.Equal(t, "price", ledger[0].Field)
	assert.Contains(t, string(ledger[0].Context), "Hlavná")

	stored, err := database.ListPasses(db, "nehnutelnosti", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].New)
}

func TestProcessPassRemovesMissingListings(t *testing.T) {
	db, processor, _ := setupProcessor(t)
	ctx := context.Background()

	first, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", "R-1", "48 m2"),
		unit("reality", "R-2", "72 m2"),
	}}), PassOptions{Complete: true})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Removed)

	second, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", "R-2", "72 m2"),
	}}), PassOptions{Complete: true, StartedAt: time.Now().UTC().Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Removed)
	assert.Equal(t, 1, second.Updated)

	link, err := database.FindLink(db, "reality", "R-1")
	require.NoError(t, err)
	property, err := database.FindPropertyByID(db, link.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, property.Status)

	// Back on the next pass
	third, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", "R-1", "48 m2"),
		unit("reality", "R-2", "72 m2"),
	}}), PassOptions{Complete: true, StartedAt: time.Now().UTC().Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, third.Relisted)

	property, err = database.FindPropertyByID(db, link.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, property.Status)
	assert.Equal(t, 1, property.RelistCount)
}

func TestProcessPassMatchesPaddedExternalIDs(t *testing.T) {
	db, processor, _ := setupProcessor(t)
	ctx := context.Background()

	_, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", "R-1", "48 m2"),
		unit("reality", "R-2", "72 m2"),
	}}), PassOptions{Complete: true})
	require.NoError(t, err)

	// The portal started padding its ids
	second, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", " R-1 ", "48 m2"),
		unit("reality", "R-2\n", "72 m2"),
	}}), PassOptions{Complete: true, StartedAt: time.Now().UTC().Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Removed)
	assert.Equal(t, 2, second.Updated)

	for _, id := range []string{"R-1", "R-2"} {
		link, err := database.FindLink(db, "reality", id)
		require.NoError(t, err)
		require.NotNil(t, link, id)
		assert.True(t, link.Active, id)
		property, err := database.FindPropertyByID(db, link.PropertyID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, property.Status, id)
	}
}

func TestProcessPassAbortsOnStructureChange(t *testing.T) {
	db, processor, _ := setupProcessor(t)
	ctx := context.Background()

	_, err := processor.ProcessPass(ctx, "reality", batches(models.Batch{Listings: []models.RawListing{
		unit("reality", "R-1", "48 m2"),
		unit("reality", "R-2", "72 m2"),
	}}), PassOptions{Complete: true})
	require.NoError(t, err)

	pass, err := processor.ProcessPass(ctx, "reality", batches(
		models.Batch{Listings: []models.RawListing{unit("reality", "R-2", "72 m2")}},
		models.Batch{Err: fmt.Errorf("%w: listing container not found", models.ErrStructureChange)},
		models.Batch{Listings: []models.RawListing{unit("reality", "R-3", "90 m2")}},
	), PassOptions{Complete: true, StartedAt: time.Now().UTC().Add(time.Second)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStructureChange))

	assert.Equal(t, models.PassAborted, pass.Status)
	assert.Equal(t, 1, pass.Found)
	assert.Equal(t, 0, pass.Removed)
	assert.Contains(t, pass.AbortReason, "listing container not found")

	// R-1 was missing from the aborted pass but stays on the market
	link, err := database.FindLink(db, "reality", "R-1")
	require.NoError(t, err)
	assert.True(t, link.Active)
	missing, err := database.FindLink(db, "reality", "R-3")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ledger, err := database.IngestErrors(db, pass.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "STRUCTURE_CHANGE", ledger[0].Kind)
}

func TestProcessPassYieldCheck(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		complete bool
		found    int
		aborted  bool
	}{
		{name: "enough listings", expected: 20, complete: true, found: 3},
		{name: "far below expected", expected: 100, complete: true, found: 3, aborted: true},
		{name: "unknown expectation", expected: 0, complete: false, found: 1},
		{name: "complete pass found nothing", expected: 0, complete: true, found: 0, aborted: true},
	}

	areas := []string{"48 m2", "72 m2", "90 m2"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, processor, _ := setupProcessor(t)

			listings := make([]models.RawListing, 0, tt.found)
			for i := 0; i < tt.found; i++ {
				listings = append(listings, unit("reality", fmt.Sprintf("R-%d", i), areas[i]))
			}
			pass, err := processor.ProcessPass(context.Background(), "reality",
				batches(models.Batch{Listings: listings}),
				PassOptions{Complete: tt.complete, Expected: tt.expected})

			if tt.aborted {
				require.Error(t, err)
				assert.True(t, errors.Is(err, models.ErrStructureChange))
				assert.Equal(t, models.PassAborted, pass.Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.PassCompleted, pass.Status)
			}

			stored, err := database.ListPasses(db, "reality", 0)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, pass.Status, stored[0].Status)
		})
	}
}

func TestProcessPassStopsOnCancel(t *testing.T) {
	_, processor, _ := setupProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan models.Batch)
	pass, err := processor.ProcessPass(ctx, "reality", ch, PassOptions{Complete: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, models.PassAborted, pass.Status)
	close(ch)
}

func TestBatchProcessorConsumesQueue(t *testing.T) {
	db, processor, passQueue := setupProcessor(t)
	processor.Start()

	for i, source := range []string{"nehnutelnosti", "reality", "bazos"} {
		require.NoError(t, passQueue.Push(&models.PassInput{
			Source:   source,
			Complete: true,
			Listings: []models.RawListing{unit(source, fmt.Sprintf("%s-%d", source, i), "72 m2")},
		}))
	}

	require.Eventually(t, func() bool {
		var done int64
		db.Model(&models.ScrapePass{}).Where("status = ?", models.PassCompleted).Count(&done)
		return done == 3
	}, 5*time.Second, 20*time.Millisecond)
	processor.Stop()
	assert.True(t, passQueue.IsClosed())

	// One unit advertised on three portals
	var properties, links int64
	require.NoError(t, db.Model(&models.Property{}).Count(&properties).Error)
	require.NoError(t, db.Model(&models.SourceListingLink{}).Count(&links).Error)
	assert.Equal(t, int64(1), properties)
	assert.Equal(t, int64(3), links)
}

func BenchmarkIngest(b *testing.B) {
	for _, sources := range []int{1, 3, 5} {
		b.Run(fmt.Sprintf("Sources_%d", sources), func(b *testing.B) {
			db := setupTestDB(b)
			ingestor := NewIngestor(db, config.Default(), config.DefaultLocations(), quietLogger())
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for s := 0; s < sources; s++ {
					raw := unit(fmt.Sprintf("source-%d", s), fmt.Sprintf("%d", i), fmt.Sprintf("%d m2", 20+i%500))
					if _, _, err := ingestor.IngestRaw(ctx, raw); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
