package expiring_test

import (
	"maps"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	. "github.com/rflandau/tandem/internal/testsupport"
	"github.com/rflandau/tandem/tandem/expiring"
)

func checkLoad[k comparable, v comparable](t *testing.T, tbl *expiring.Table[k, v], key k, now time.Time, expectFound bool, expectedVal v) {
	t.Helper()
	val, found := tbl.Load(key, now)
	if found != expectFound {
		t.Fatalf("key %v: found=%v, expected found=%v", key, found, expectFound)
	}
	if found && val != expectedVal {
		t.Fatal(ExpectedActual(expectedVal, val))
	}
}

func TestTable(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	t.Run("expire on timeout", func(t *testing.T) {
		tbl := expiring.New[int, float64]()
		tests := []struct {
			k       int
			v       float64
			timeout time.Duration
		}{
			{0, 1.1, 5 * time.Millisecond},
			{-650493712, -1111.2222, 100 * time.Millisecond},
			{randomdata.Number(1, 1000), randomdata.Decimal(0, 10), 8 * time.Second},
		}
		for i, tt := range tests {
			t.Run(strconv.Itoa(i), func(t *testing.T) {
				tbl.Store(tt.k, tt.v, tt.timeout, start)
				checkLoad(t, tbl, tt.k, start, true, tt.v)
				checkLoad(t, tbl, tt.k, start.Add(tt.timeout-time.Nanosecond), true, tt.v)
				checkLoad(t, tbl, tt.k, start.Add(tt.timeout), false, tt.v)
			})
		}
	})

	t.Run("overwrite resets expiry", func(t *testing.T) {
		tbl := expiring.New[*int, string]()
		key, val := 151, "Wing of Astel"
		tbl.Store(&key, val, 5*time.Millisecond, start)
		tbl.Store(&key, val+"!", 20*time.Millisecond, start.Add(4*time.Millisecond))
		checkLoad(t, tbl, &key, start.Add(10*time.Millisecond), true, val+"!")
		checkLoad(t, tbl, &key, start.Add(24*time.Millisecond), false, val)
	})

	t.Run("delete elements", func(t *testing.T) {
		tbl := expiring.New[string, string]()
		key, val := "Comet Azur", "Azur Staff"
		tbl.Store(key, val, 40*time.Millisecond, start)
		if !tbl.Delete(key) {
			t.Fatalf("failed to delete key='%v': not found", key)
		}
		checkLoad(t, tbl, key, start, false, val)
		if tbl.Delete("Aomet Czur") {
			t.Fatal("successfully deleted non-existent key")
		}
	})

	t.Run("refresh", func(t *testing.T) {
		k, v := struct{ a int }{32}, 3.14
		tbl := expiring.New[struct{ a int }, float64]()
		tbl.Store(k, v, 20*time.Millisecond, start)
		if !tbl.Refresh(k, 40*time.Millisecond, start.Add(10*time.Millisecond)) {
			t.Fatal("failed to refresh value prior to original expiry: not found")
		}
		checkLoad(t, tbl, k, start.Add(49*time.Millisecond), true, v)
		checkLoad(t, tbl, k, start.Add(50*time.Millisecond), false, v)
		if tbl.Refresh(k, time.Hour, start.Add(50*time.Millisecond)) {
			t.Fatal("refreshed an expired key")
		}
		if tbl.Refresh(struct{ a int }{1}, time.Hour, start) {
			t.Fatal("successfully refreshed non-existent key")
		}
	})

	t.Run("update keeps expiry", func(t *testing.T) {
		tbl := expiring.New[string, int]()
		tbl.Store("Reduvia", 1, 10*time.Millisecond, start)
		if !tbl.Update("Reduvia", 2) {
			t.Fatal("failed to update existing key")
		}
		checkLoad(t, tbl, "Reduvia", start.Add(9*time.Millisecond), true, 2)
		checkLoad(t, tbl, "Reduvia", start.Add(10*time.Millisecond), false, 2)
		if tbl.Update("Misericorde", 1) {
			t.Fatal("updated a non-existent key")
		}
	})
}

func TestTable_Prune(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	var (
		cleanupBuf         = []int{}
		expectedCleanupBuf = []int{1, -1, -2, 2, -1, -2, 3, -1, -2}
	)
	tbl := expiring.New[int, int]()
	tbl.Store(-1, -2, 50*time.Millisecond, start, func(k, v int) {
		cleanupBuf = append(cleanupBuf, 1, k, v)
	}, func(k, v int) {
		cleanupBuf = append(cleanupBuf, 2, k, v)
	}, func(k, v int) {
		cleanupBuf = append(cleanupBuf, 3, k, v)
	})
	tbl.Store(5, 6, time.Second, start)

	if pruned := tbl.Prune(start.Add(49 * time.Millisecond)); len(pruned) != 0 {
		t.Fatal("pruned early", ExpectedActual(0, len(pruned)))
	}
	if tbl.Len() != 2 {
		t.Fatal(ExpectedActual(2, tbl.Len()))
	}
	pruned := tbl.Prune(start.Add(50 * time.Millisecond))
	if !maps.Equal(pruned, map[int]int{-1: -2}) {
		t.Fatal(ExpectedActual(map[int]int{-1: -2}, pruned))
	}
	if slices.Compare(cleanupBuf, expectedCleanupBuf) != 0 {
		t.Fatal("clean up functions did not execute properly", ExpectedActual(expectedCleanupBuf, cleanupBuf))
	}
	if tbl.Len() != 1 {
		t.Fatal(ExpectedActual(1, tbl.Len()))
	}
}

func TestTable_All(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	in := map[string]int{
		"icerind hatchet": 1,
		"backhand blade":  -2,
		"misericorde":     1000,
		"reduvia":         11,
	}
	tbl := expiring.New[string, int]()
	for k, v := range in {
		tbl.Store(k, v, 3*time.Second, start)
	}
	tbl.Store("expired", 0, time.Second, start)

	t.Run("all unexpired items", func(t *testing.T) {
		out := maps.Collect(tbl.All(start.Add(2 * time.Second)))
		if !maps.Equal(in, out) {
			t.Fatal("input and output maps do not match", ExpectedActual(in, out))
		}
	})
	t.Run("early exit", func(t *testing.T) {
		var count int
		for range tbl.All(start) {
			count++
			if count == 2 {
				break
			}
		}
		if count != 2 {
			t.Fatal(ExpectedActual(2, count))
		}
	})
}
