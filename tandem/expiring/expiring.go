// Package expiring introduces tables whose elements expire after a duration.
package expiring

import (
	"iter"
	"time"
)

// wrapped value with its expiry attached
type timedV[key_t comparable, value_t any] struct {
	val     value_t
	expires time.Time
	cleanup []func(key_t, value_t)
}

// A Table is a map whose elements expire after their duration elapses.
//
// Tables do not own a clock or any timers: callers pass the current time in and call Prune to collect expired elements.
// This keeps every mutation on the caller's goroutine and makes expiry deterministic under test.
// Tables are not thread-safe.
//
// NOTE: an element is considered expired once now >= its expiry.
// Until Prune is called, expired elements are hidden from Load and Range but still count towards Len.
type Table[key_t comparable, value_t any] struct {
	m map[key_t]timedV[key_t, value_t]
}

// New returns an empty table.
func New[key_t comparable, value_t any]() *Table[key_t, value_t] {
	return &Table[key_t, value_t]{m: make(map[key_t]timedV[key_t, value_t])}
}

// Store saves the given k/v and sets them to expire after the given duration, counting from now.
// If a value was previously associated to this key, it will be overwritten and its expiry reset.
// cleanup functions will be called in given order when the element is pruned (but not when it is deleted or overwritten).
func (tbl *Table[k, v]) Store(key k, value v, expire time.Duration, now time.Time, cleanup ...func(k, v)) {
	if tbl.m == nil {
		tbl.m = make(map[k]timedV[k, v])
	}
	tbl.m[key] = timedV[k, v]{val: value, expires: now.Add(expire), cleanup: cleanup}
}

// Load fetches the value associated to the given key if available and unexpired.
func (tbl *Table[key_t, value_t]) Load(key key_t, now time.Time) (value value_t, found bool) {
	tVal, found := tbl.m[key]
	if !found || !now.Before(tVal.expires) {
		return value, false
	}
	return tVal.val, true
}

// Update replaces the value associated to key without touching its expiry.
// Returns false if key is not in the table.
func (tbl *Table[key_t, value_t]) Update(key key_t, value value_t) (found bool) {
	tVal, found := tbl.m[key]
	if !found {
		return false
	}
	tVal.val = value
	tbl.m[key] = tVal
	return true
}

// Delete destroys a key in the map without calling its cleanup functions.
// Ineffectual if key is not found.
func (tbl *Table[key_t, value_t]) Delete(key key_t) (found bool) {
	if _, found = tbl.m[key]; found {
		delete(tbl.m, key)
	}
	return found
}

// Refresh resets the expiry of the given key (if it exists and has not yet expired) to now+expire.
func (tbl *Table[key_t, value_t]) Refresh(key key_t, expire time.Duration, now time.Time) (found bool) {
	tVal, found := tbl.m[key]
	if !found || !now.Before(tVal.expires) {
		return false
	}
	tVal.expires = now.Add(expire)
	tbl.m[key] = tVal
	return true
}

// Len returns the number of elements in the table, including expired-but-unpruned elements.
func (tbl *Table[key_t, value_t]) Len() int {
	return len(tbl.m)
}

// All iterates over every unexpired element in an unspecified order.
// The table must not be modified during iteration.
func (tbl *Table[key_t, value_t]) All(now time.Time) iter.Seq2[key_t, value_t] {
	return func(yield func(key_t, value_t) bool) {
		for k, tVal := range tbl.m {
			if !now.Before(tVal.expires) {
				continue
			}
			if !yield(k, tVal.val) {
				return
			}
		}
	}
}

// Prune removes every element that has expired as of now, calls its cleanup functions and returns the removed elements.
func (tbl *Table[key_t, value_t]) Prune(now time.Time) map[key_t]value_t {
	var pruned map[key_t]value_t
	for k, tVal := range tbl.m {
		if now.Before(tVal.expires) {
			continue
		}
		delete(tbl.m, k)
		if pruned == nil {
			pruned = make(map[key_t]value_t)
		}
		pruned[k] = tVal.val
		for _, f := range tVal.cleanup {
			f(k, tVal.val)
		}
	}
	return pruned
}
