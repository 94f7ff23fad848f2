package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/leafguard/internal/imaging"
	"github.com/iliyamo/leafguard/internal/inference"
	"github.com/iliyamo/leafguard/internal/logging"
	"github.com/iliyamo/leafguard/internal/model"
	"github.com/iliyamo/leafguard/internal/queue"
	"github.com/iliyamo/leafguard/internal/repository"
	"github.com/iliyamo/leafguard/internal/storage"
)

// RecommendationUnavailable replaces the recommendation text when the
// recommendation service fails.
const RecommendationUnavailable = "Unavailable"

// MaxPlantTypeLength matches the history plant_type column.
const MaxPlantTypeLength = 100

// Predictor classifies a plant image into a status label.
type Predictor interface {
	Predict(ctx context.Context, image []byte) (string, error)
}

// Recommender turns a status label into care advice.
type Recommender interface {
	Recommend(ctx context.Context, req inference.RecommendRequest) (string, error)
}

// ImageStore persists image bytes under name and returns the public URL.
// Delete removes a stored image again.
type ImageStore interface {
	Save(ctx context.Context, name string, img imaging.Image) (string, error)
	Delete(ctx context.Context, name string) error
}

// HistoryInvalidator drops cached history pages of a user.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// EventPublisher announces completed analyses.
type EventPublisher interface {
	PublishAnalysisCompleted(ctx context.Context, ev queue.AnalysisCompletedEvent) error
}

// AnalysisService runs one image through prediction and recommendation and
// records the outcome in the user's history.  Cache and Events are optional.
type AnalysisService struct {
	Processor   imaging.Processor
	Predictor   Predictor
	Recommender Recommender
	Images      ImageStore
	History     repository.HistoryStore
	Cache       HistoryInvalidator
	Events      EventPublisher
}

// AnalyzeInput is one upload with its form fields.
type AnalyzeInput struct {
	UserID    string
	PlantType string
	WaterFreq float64
	Language  string
	Image     imaging.Image
}

// AnalyzeResult is what the client receives plus the stored entry.
type AnalyzeResult struct {
	Status         string
	Recommendation string
	ImageURL       string
	ThumbnailURL   string
	Degraded       bool
	Entry          model.HistoryEntry
}

// Analyze runs the pipeline.  A prediction failure aborts before anything is
// stored; a recommendation failure only degrades the result.
func (s *AnalysisService) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeResult, error) {
	log := logging.With("analysis")

	if len(in.Image.Data) == 0 {
		return AnalyzeResult{}, Validation("image is required")
	}
	if !strings.HasPrefix(in.Image.ContentType, "image/") {
		return AnalyzeResult{}, Validation("image must be an image/* file")
	}
	if strings.TrimSpace(in.PlantType) == "" {
		return AnalyzeResult{}, Validation("plantType is required")
	}
	if utf8.RuneCountInString(in.PlantType) > MaxPlantTypeLength {
		return AnalyzeResult{}, Validation("plantType must be at most 100 characters")
	}
	if math.IsNaN(in.WaterFreq) || math.IsInf(in.WaterFreq, 0) {
		return AnalyzeResult{}, Validation("waterFreq must be a finite number")
	}
	if in.Language == "" {
		in.Language = "en"
	}

	processed := s.process(ctx, in.Image)

	status, err := s.Predictor.Predict(ctx, processed.Display.Data)
	if err != nil {
		return AnalyzeResult{}, Upstream("prediction service unavailable", err)
	}

	res := AnalyzeResult{Status: status}
	res.Recommendation, err = s.Recommender.Recommend(ctx, inference.RecommendRequest{
		Status:    status,
		PlantType: in.PlantType,
		WaterFreq: in.WaterFreq,
		Language:  in.Language,
	})
	if err != nil {
		derr := Degraded("recommendation service unavailable", err)
		log.Warn().Err(derr).Str("user_id", in.UserID).Str("status", status).Msg("continuing without recommendation")
		res.Recommendation = RecommendationUnavailable
		res.Degraded = true
	}

	name := storage.NewName(processed.Display.ContentType)
	res.ImageURL, err = s.Images.Save(ctx, name, processed.Display)
	if err != nil {
		return AnalyzeResult{}, Internal("failed to store image", err)
	}
	saved := []string{name}
	res.ThumbnailURL = res.ImageURL
	if processed.Thumbnail != nil {
		thumbName := storage.ThumbnailName(name)
		thumbURL, err := s.Images.Save(ctx, thumbName, *processed.Thumbnail)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("thumbnail not stored")
		} else {
			res.ThumbnailURL = thumbURL
			saved = append(saved, thumbName)
		}
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	res.Entry, err = s.History.Append(dbCtx, in.UserID, model.HistoryEntry{
		PlantType:      in.PlantType,
		Status:         res.Status,
		Recommendation: res.Recommendation,
		ImageURL:       res.ImageURL,
		ThumbnailURL:   res.ThumbnailURL,
		AnalyzedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.discard(ctx, saved)
		if errors.Is(err, repository.ErrNotFound) {
			return AnalyzeResult{}, NotFound("user not found")
		}
		return AnalyzeResult{}, Internal("failed to record history", err)
	}

	s.afterAppend(ctx, in.UserID, res)
	return res, nil
}

// process falls back to the original bytes without a thumbnail on any failure.
func (s *AnalysisService) process(ctx context.Context, img imaging.Image) imaging.Result {
	if s.Processor == nil {
		return imaging.Result{Display: img}
	}
	out, err := s.Processor.Process(ctx, img)
	if err != nil {
		logging.Warn().Err(err).Msg("image processing failed, using original")
		return imaging.Result{Display: img}
	}
	return out
}

// discard removes images whose history entry was never written.
func (s *AnalysisService) discard(ctx context.Context, names []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbTimeout)
	defer cancel()
	for _, name := range names {
		if err := s.Images.Delete(ctx, name); err != nil {
			logging.Warn().Err(err).Str("name", name).Msg("orphaned image not removed")
		}
	}
}

func (s *AnalysisService) afterAppend(ctx context.Context, userID string, res AnalyzeResult) {
	ctx = context.WithoutCancel(ctx)
	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, userID); err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("history cache invalidation failed")
		}
	}
	if s.Events != nil {
		ev := queue.AnalysisCompletedEvent{
			EntryID:                res.Entry.ID,
			UserID:                 userID,
			PlantType:              res.Entry.PlantType,
			Status:                 res.Status,
			RecommendationDegraded: res.Degraded,
			ImageURL:               res.ImageURL,
			AnalyzedAt:             res.Entry.AnalyzedAt.Format(time.RFC3339),
		}
		if err := s.Events.PublishAnalysisCompleted(ctx, ev); err != nil {
			logging.Warn().Err(err).Str("entry_id", ev.EntryID).Msg("analysis event not published")
		}
	}
}
