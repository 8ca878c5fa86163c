package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"signflow/completion"
	"signflow/document"
	"signflow/gate"
	"signflow/lifecycle"
	"signflow/notify"
	"signflow/objectstore"
	"signflow/test/actors"
	"signflow/test/chaos"
	"signflow/test/infra"
	"signflow/test/oracles"
	"signflow/token"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent submitters")
	flRecipients  = flag.Int("recipients", 3, "recipients per published document")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

func TestCompletionGateConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}
	seed := *flSeed

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	h := newHarness(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		return actors.Publisher(ctx2, rand.New(rand.NewSource(seed)), h.controller, h.store, *flRecipients, h.stats, stop)
	})
	for i := 0; i < *flConcurrency; i++ {
		rng := rand.New(rand.NewSource(seed + int64(i) + 1))
		g.Go(func() error { return actors.Submitter(ctx2, rng, h.tracker, h.inbox, h.stats, stop) })
	}
	g.Go(func() error { return actors.OutboxWorker(ctx2, rand.New(rand.NewSource(seed-1)), pool, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, rand.New(rand.NewSource(seed-2)), pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Logf("oracle query interrupted: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	if dups := h.inbox.DuplicateFinals(); len(dups) > 0 {
		t.Fatalf("final mail sent more than once (seed=%d): %v", seed, dups)
	}
	t.Logf("published=%d submitted=%d finalized=%d failures=%d (seed=%d)",
		h.stats.Published.Load(), h.stats.Submitted.Load(), h.stats.Finalized.Load(), h.stats.Failures.Load(), seed)
}

type harness struct {
	controller *lifecycle.Controller
	tracker    *completion.Tracker
	store      *objectstore.MemoryStore
	inbox      *actors.Inbox
	stats      *actors.Stats
}

func newHarness(pool *pgxpool.Pool) harness {
	docs := document.NewRepository(pool)
	store := objectstore.NewMemoryStore("stress")
	inbox := actors.NewInbox()
	links := notify.Links{BaseURL: "https://stress.example.com"}

	tracker := completion.NewTracker(completion.NewRepository(pool), docs, store, token.NewIssuer())
	tracker.WithFinalizer(gate.New(docs, tracker, gate.NewKeyedMutex(), inbox, links))

	return harness{
		controller: lifecycle.NewController(docs, tracker, store, inbox, links),
		tracker:    tracker,
		store:      store,
		inbox:      inbox,
		stats:      &actors.Stats{},
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"documents", `SELECT id, title, status, completed_at, jsonb_array_length(recipients) AS roster FROM documents ORDER BY updated_at DESC LIMIT 50`},
		{"completion_records", `SELECT id, document_id, recipient_identity, status, completed_at FROM completion_records ORDER BY updated_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, payload, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
