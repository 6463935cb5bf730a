package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// ErrCorrupt marks a value that exists but cannot be decoded.
// Callers treat it as absent and log it.
var ErrCorrupt = errors.New("corrupt state value")

// GetJSON decodes key into v. It returns false when the key is missing or
// corrupt; corruption is additionally reported as an ErrCorrupt error.
func GetJSON(st domain.SharedState, key string, v any) (bool, error) {
	data, ok, err := st.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return true, nil
}

// SetJSON encodes v under key.
func SetJSON(st domain.SharedState, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return st.Set(key, data)
}

// GetTime reads a timestamp. Missing or corrupt values return the zero time.
func GetTime(st domain.SharedState, key string) (time.Time, bool, error) {
	var t time.Time
	ok, err := GetJSON(st, key, &t)
	if !ok {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetTime stores a timestamp.
func SetTime(st domain.SharedState, key string, t time.Time) error {
	return SetJSON(st, key, t)
}

// GetBool reads a flag. Missing or corrupt values read as false.
func GetBool(st domain.SharedState, key string) (bool, error) {
	var b bool
	if _, err := GetJSON(st, key, &b); err != nil {
		return false, err
	}
	return b, nil
}

// SetBool stores a flag.
func SetBool(st domain.SharedState, key string, b bool) error {
	return SetJSON(st, key, b)
}

// GetInt64 reads an integer. Missing or corrupt values read as zero.
func GetInt64(st domain.SharedState, key string) (int64, error) {
	var n int64
	if _, err := GetJSON(st, key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetInt64 stores an integer.
func SetInt64(st domain.SharedState, key string, n int64) error {
	return SetJSON(st, key, n)
}

// Has reports whether key exists.
func Has(st domain.SharedState, key string) (bool, error) {
	_, ok, err := st.Get(key)
	return ok, err
}

// RemoveAll removes every key, continuing past failures and returning the
// last error. A partial clear is safe because a missing key reads as inactive.
func RemoveAll(st domain.SharedState, keys ...string) error {
	var lastErr error
	for _, k := range keys {
		if err := st.Remove(k); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
