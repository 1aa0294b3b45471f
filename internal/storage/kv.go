package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrCorrupt  = errors.New("storage: stored value is not valid JSON")
)

// Fixed keys, one per resource class. Per-session isolation comes from Scoped.
const (
	KeyDraft       = "draft"
	KeySavedDrafts = "saved_drafts"
	KeyBookings    = "bookings"
)

func BoardReadKey(class string) string  { return "board_read:" + class }
func CaseStatusKey(class string) string { return "case_status:" + class }

// KV is the persistence substrate the core depends on. Values are opaque
// bytes; the JSON helpers below are how the core reads and writes them.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Atomic is implemented by substrates that can commit a group of writes
// together. Writes made through tx are discarded if fn returns an error.
type Atomic interface {
	Atomic(ctx context.Context, fn func(tx KV) error) error
}

// RunAtomic runs fn inside a batch when kv supports it and directly against
// kv otherwise. The boolean reports which one happened.
func RunAtomic(ctx context.Context, kv KV, fn func(tx KV) error) (bool, error) {
	if a, ok := kv.(Atomic); ok {
		return true, a.Atomic(ctx, fn)
	}
	return false, fn(kv)
}

// LoadJSON decodes the value at key into dest. Absent keys yield ErrNotFound
// and undecodable values ErrCorrupt; callers treat both as "no data".
func LoadJSON(ctx context.Context, kv KV, key string, dest any) error {
	b, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, b)
}

// NoData reports whether err means the value is missing or unreadable.
func NoData(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}

// Scoped confines every key to one operator session.
func Scoped(kv KV, sessionID string) KV {
	s := scoped{kv: kv, prefix: "session:" + sessionID + ":"}
	if _, ok := kv.(Atomic); ok {
		return scopedAtomic{s}
	}
	return s
}

type scoped struct {
	kv     KV
	prefix string
}

func (s scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.kv.Get(ctx, s.prefix+key)
}

func (s scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.kv.Set(ctx, s.prefix+key, value)
}

func (s scoped) Remove(ctx context.Context, key string) error {
	return s.kv.Remove(ctx, s.prefix+key)
}

type scopedAtomic struct{ scoped }

func (s scopedAtomic) Atomic(ctx context.Context, fn func(tx KV) error) error {
	return s.kv.(Atomic).Atomic(ctx, func(tx KV) error {
		return fn(scoped{kv: tx, prefix: s.prefix})
	})
}
