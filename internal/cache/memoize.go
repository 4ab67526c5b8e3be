package cache

import "time"

// Memoize returns the cached result for (fn, args) or computes and stores it.
//
// Only successful results are stored; an error from compute is returned as is
// and leaves the cache untouched. Two goroutines that miss on the same key at
// the same time will both call compute. A cached value of a different type
// than T is treated as a miss and overwritten.
func Memoize[T any](c *Cache, fn string, ttl time.Duration, args Args, compute func() (T, error)) (T, error) {
	if c == nil {
		return compute()
	}

	key := Fingerprint(fn, args)
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	result, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, result, ttl)
	return result, nil
}
