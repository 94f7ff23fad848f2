package service

import (
	"context"
	"errors"
	"math"

	"github.com/iliyamo/leafguard/internal/model"
	"github.com/iliyamo/leafguard/internal/repository"
)

// HistoryService pages through a user's analyses, newest first.
type HistoryService struct {
	Store        repository.HistoryStore
	DefaultLimit int
	MaxLimit     int
}

// HistoryResult is one page plus the paging metadata.
type HistoryResult struct {
	Username string
	Entries  []model.HistoryEntry
	Page     int
	Limit    int
	Total    int
	Pages    int
}

// Normalize clamps page to >= 1 and limit to [1, MaxLimit], substituting
// DefaultLimit for a missing or non-positive limit.
func (s *HistoryService) Normalize(page, limit int) (int, int) {
	maxLimit := s.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	def := s.DefaultLimit
	if def < 1 || def > maxLimit {
		def = min(10, maxLimit)
	}
	switch {
	case limit < 1:
		limit = def
	case limit > maxLimit:
		limit = maxLimit
	}
	if page < 1 {
		page = 1
	}
	// keep the offset representable
	if maxPage := math.MaxInt32 / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

// Get returns the requested page for userID.
func (s *HistoryService) Get(ctx context.Context, userID string, page, limit int) (HistoryResult, error) {
	page, limit = s.Normalize(page, limit)

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	p, err := s.Store.Page(ctx, userID, (page-1)*limit, limit)
	if errors.Is(err, repository.ErrNotFound) {
		return HistoryResult{}, NotFound("user not found")
	}
	if err != nil {
		return HistoryResult{}, Internal("failed to load history", err)
	}
	entries := p.Entries
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return HistoryResult{
		Username: p.Username,
		Entries:  entries,
		Page:     page,
		Limit:    limit,
		Total:    p.Total,
		Pages:    (p.Total + limit - 1) / limit,
	}, nil
}
