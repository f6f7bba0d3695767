package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/linkhash"
	"telegram-filestream/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_token_cache_hits_total",
		Help: "Short-link lookups answered from the in-memory token index.",
	})
	tokenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_token_cache_misses_total",
		Help: "Short-link lookups that went to the store.",
	})
)

// TokenIndex maps short-link tokens to file_unique_ids. Recent tokens live
// in memory; everything else is one indexed query against the store.
type TokenIndex struct {
	store TokenStore
	cache *expirable.LRU[string, string]
}

func NewTokenIndex(store TokenStore, size int, ttl time.Duration) *TokenIndex {
	return &TokenIndex{
		store: store,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Add indexes a freshly created record.
func (i *TokenIndex) Add(rec models.FileRecord) {
	if !linkhash.Verify(rec.FileUniqueID, rec.Token) {
		return
	}
	i.cache.Add(rec.Token, rec.FileUniqueID)
}

// Lookup returns the current record for token. A token shared by more
// than one record is treated as not found.
func (i *TokenIndex) Lookup(ctx context.Context, token string) (*models.FileRecord, error) {
	if uniqueID, ok := i.cache.Get(token); ok {
		tokenCacheHits.Inc()
		rec, err := i.store.GetByUniqueID(ctx, uniqueID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		i.cache.Remove(token)
	} else {
		tokenCacheMisses.Inc()
	}

	records, err := i.store.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	switch len(records) {
	case 0:
		return nil, fmt.Errorf("token %s: %w", token, apperrors.ErrNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("token %s matches %d files: %w", token, len(records), apperrors.ErrNotFound)
	}

	rec := records[0]
	if !linkhash.Verify(rec.FileUniqueID, token) {
		return nil, fmt.Errorf("token %s: %w", token, apperrors.ErrNotFound)
	}
	i.cache.Add(token, rec.FileUniqueID)
	return &rec, nil
}
