package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"iot-environment-server/internal/migrate"
	"iot-environment-server/internal/modules/environment/types"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("close db: %v", closeErr)
		}
	})
	if err := migrate.Run(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(id string, offset time.Duration) types.Reading {
	temp := 20 + offset.Minutes()
	return types.Reading{ID: id, Timestamp: base.Add(offset), TemperatureCelsius: &temp, Sensor: "dht22", Device: "pi", Location: "lab", DataSource: "test"}
}

// implementations runs the same contract against the SQLite and in-memory stores.
func implementations(t *testing.T) map[string]EnvironmentRepository {
	return map[string]EnvironmentRepository{
		"sqlite": NewRepository(setupTestDB(t)),
		"memory": NewMemoryRepository(),
	}
}

func insertAll(t *testing.T, repo EnvironmentRepository, readings ...types.Reading) {
	t.Helper()
	for _, r := range readings {
		if err := repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("Insert(%s): %v", r.ID, err)
		}
	}
}

func ids(rs []types.Reading) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMostRecent_Empty(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			got, err := repo.MostRecent(context.Background(), 10)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("MostRecent = %v; want empty non-nil slice", got)
			}
		})
	}
}

func TestMostRecent_OrdersDescendingRegardlessOfInsertOrder(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("b", 2*time.Minute), at("a", time.Minute), at("c", 3*time.Minute))

			got, err := repo.MostRecent(context.Background(), 10)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			if want := []string{"c", "b", "a"}; !equalIDs(ids(got), want) {
				t.Errorf("MostRecent ids = %v; want %v", ids(got), want)
			}
		})
	}
}

func TestMostRecent_LimitsAndTieBreak(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("x1", 0), at("x3", time.Minute), at("x2", time.Minute), at("x0", -time.Minute))

			got, err := repo.MostRecent(context.Background(), 3)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			if want := []string{"x3", "x2", "x1"}; !equalIDs(ids(got), want) {
				t.Errorf("MostRecent ids = %v; want %v", ids(got), want)
			}
		})
	}
}

func TestMostRecent_NonPositive(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("a", 0))
			for _, n := range []int{0, -5} {
				got, err := repo.MostRecent(context.Background(), n)
				if err != nil {
					t.Fatalf("MostRecent(%d): %v", n, err)
				}
				if len(got) != 0 {
					t.Errorf("MostRecent(%d) len = %d; want 0", n, len(got))
				}
			}
		})
	}
}

func TestAfter_StrictlyGreaterAscending(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo,
				at("t3", 3*time.Minute),
				at("t1", time.Minute),
				at("t2b", 2*time.Minute),
				at("t2a", 2*time.Minute),
			)

			got, err := repo.After(context.Background(), base.Add(time.Minute))
			if err != nil {
				t.Fatalf("After: %v", err)
			}
			if want := []string{"t2a", "t2b", "t3"}; !equalIDs(ids(got), want) {
				t.Errorf("After ids = %v; want %v", ids(got), want)
			}
		})
	}
}

func TestAfter_SubSecondBoundary(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			r := at("ns", 0)
			r.Timestamp = base.Add(1500 * time.Nanosecond)
			insertAll(t, repo, r)

			got, err := repo.After(context.Background(), base.Add(1499*time.Nanosecond))
			if err != nil {
				t.Fatalf("After: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("After len = %d; want 1", len(got))
			}
			got, err = repo.After(context.Background(), base.Add(1500*time.Nanosecond))
			if err != nil {
				t.Fatalf("After: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("After at equal timestamp len = %d; want 0", len(got))
			}
		})
	}
}

func TestAfter_NonUTCArgument(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("a", 0), at("b", time.Hour))
			paris := time.FixedZone("CEST", 2*3600)

			got, err := repo.After(context.Background(), base.In(paris))
			if err != nil {
				t.Fatalf("After: %v", err)
			}
			if want := []string{"b"}; !equalIDs(ids(got), want) {
				t.Errorf("After ids = %v; want %v", ids(got), want)
			}
		})
	}
}

func TestInsert_PreservesOptionalFields(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			hum := 0
			withHumidity := types.Reading{ID: "h", Timestamp: base, HumidityPercent: &hum}
			bare := types.Reading{ID: "n", Timestamp: base.Add(time.Second)}
			insertAll(t, repo, withHumidity, bare)

			got, err := repo.MostRecent(context.Background(), 2)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			if !got[0].Equal(bare) {
				t.Errorf("got %+v; want %+v", got[0], bare)
			}
			if !got[1].Equal(withHumidity) {
				t.Errorf("got %+v; want %+v", got[1], withHumidity)
			}
		})
	}
}

func TestInsert_RejectsDuplicateAndMissingID(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("dup", 0))
			if err := repo.Insert(context.Background(), at("dup", time.Minute)); err == nil {
				t.Error("Insert duplicate id: error = nil; want non-nil")
			}
			if err := repo.Insert(context.Background(), at("", 0)); err == nil {
				t.Error("Insert empty id: error = nil; want non-nil")
			}
			n, err := repo.Count(context.Background())
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != 1 {
				t.Errorf("Count = %d; want 1", n)
			}
		})
	}
}

func TestReads_ReturnIndependentCopies(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			insertAll(t, repo, at("a", 0))

			first, err := repo.MostRecent(context.Background(), 1)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			*first[0].TemperatureCelsius = -100
			first[0].Sensor = "mutated"

			second, err := repo.MostRecent(context.Background(), 1)
			if err != nil {
				t.Fatalf("MostRecent: %v", err)
			}
			if !second[0].Equal(at("a", 0)) {
				t.Errorf("stored reading changed: %+v", second[0])
			}
		})
	}
}

func TestReads_Concurrent(t *testing.T) {
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				insertAll(t, repo, at(fmt.Sprintf("r%02d", i), time.Duration(i)*time.Second))
			}

			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					got, err := repo.MostRecent(context.Background(), 5)
					if err == nil && len(got) != 5 {
						err = fmt.Errorf("MostRecent len = %d", len(got))
					}
					errs <- err
				}()
				go func() {
					defer wg.Done()
					got, err := repo.After(context.Background(), base.Add(9*time.Second))
					if err == nil && len(got) != 10 {
						err = fmt.Errorf("After len = %d", len(got))
					}
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Error(err)
				}
			}
		})
	}
}

func TestMostRecent_ClosedDB(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := repo.MostRecent(context.Background(), 1); err == nil {
		t.Fatal("MostRecent on closed db: error = nil; want non-nil")
	}
	if _, err := repo.After(context.Background(), base); err == nil {
		t.Fatal("After on closed db: error = nil; want non-nil")
	}
}
