package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestWorkersStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.scheduler.Now = nil
	session := f.startSession(t, testProfile(), time.Now().UTC())
	w := &Workers{
		Scheduler:         f.scheduler,
		Poller:            f.poller,
		SchedulerInterval: 10 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		Logger:            zerolog.Nop(),
	}
	w.Start(context.Background())
	w.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		tickets, _ := f.repo.ListTicketsForSession(context.Background(), session.ID)
		if len(tickets) > 0 {
			break
		}
		if time.Now().After(deadline) {
			w.Stop()
			t.Fatalf("scheduler loop never generated a ticket")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()
}

func TestWorkersRunOnceSharesTheTaskLock(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, testProfile(), monday9am)
	f.clock.Advance(2*time.Hour + time.Minute)
	w := &Workers{Scheduler: f.scheduler, Poller: f.poller, Logger: zerolog.Nop()}

	var wg sync.WaitGroup
	results := make([]SchedulerResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.RunSchedulerOnce(context.Background())
			if err != nil {
				t.Errorf("run once: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.TicketsGenerated
	}
	if total != 3 {
		t.Fatalf("expected three windows to be generated exactly once, got %d", total)
	}
	got, _ := f.repo.GetSession(context.Background(), session.ID)
	if got.WindowIndex != 3 {
		t.Fatalf("expected window index 3, got %d", got.WindowIndex)
	}

	pres, err := w.RunPollerOnce(context.Background())
	if err != nil {
		t.Fatalf("poller run once: %v", err)
	}
	if pres.TicketsChecked != 3 {
		t.Fatalf("expected 3 tickets checked, got %+v", pres)
	}
}
