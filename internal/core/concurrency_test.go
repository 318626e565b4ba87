package core_test

import (
	"errors"
	"sync"
	"testing"

	"ximopet/internal/core"
)

func TestConcurrentUsageNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Usage.CreateUsage(f.ctx, core.UsageInput{
				LocationID: farmA,
				UsageDate:  day("2024-01-06"),
				Lines:      lines("10"),
				Initial:    pending(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, core.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("CreateUsage: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 15 || refused != 5 {
		t.Errorf("succeeded=%d refused=%d, want 15 and 5", succeeded, refused)
	}
	if got := f.currentStock(t, itemFeed, farmA); got != "0" {
		t.Errorf("current stock: got %s, want 0", got)
	}
	f.assertConsistent(t)
}

func TestConcurrentTransfersAndUsage(t *testing.T) {
	f := newFixture(t)
	f.seedScenario(t)
	f.receive(t, itemFeed, farmB, "2024-01-01", "100", "2")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Mutations.CreateMutation(f.ctx, core.MutationInput{
				SourceLocationID: farmA, DestinationLocationID: farmB,
				MutationDate: day("2024-01-07"), Lines: lines("7"),
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.Mutations.CreateMutation(f.ctx, core.MutationInput{
				SourceLocationID: farmB, DestinationLocationID: farmA,
				MutationDate: day("2024-01-07"), Lines: lines("5"),
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.Usage.CreateUsage(f.ctx, core.UsageInput{
				LocationID: farmA, UsageDate: day("2024-01-08"), Lines: lines("3"), Initial: pending(),
			})
		}()
	}
	wg.Wait()

	// Transfers move quantity between locations; they never create or destroy it.
	net := dec("0")
	for _, loc := range []int64{farmA, farmB} {
		for _, b := range f.batches(t, itemFeed, loc) {
			net = net.Add(b.QuantityIn).Sub(b.QuantityMutated)
		}
	}
	if !net.Equal(dec("250")) {
		t.Errorf("net received: got %s, want 250", net)
	}
	f.assertConsistent(t)
}
