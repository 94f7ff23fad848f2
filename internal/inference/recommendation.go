package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/leafguard/internal/metrics"
)

// NoRecommendation is used when the service answers without text.
const NoRecommendation = "No recommendation"

// RecommendRequest is the JSON body sent to {baseURL}/recommend.
type RecommendRequest struct {
	Status    string  `json:"status"`
	PlantType string  `json:"plantType"`
	WaterFreq float64 `json:"waterFreq"`
	Language  string  `json:"language"`
}

type recommendResponse struct {
	Recommendation string `json:"recommendation"`
}

// RecommendationClient posts a prediction to the recommendation service.
type RecommendationClient struct {
	url     string
	timeout time.Duration
	http    *http.Client
	breaker *breaker
}

func NewRecommendationClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *RecommendationClient {
	return &RecommendationClient{
		url:     strings.TrimRight(baseURL, "/") + "/recommend",
		timeout: orDefault(timeout),
		http:    &http.Client{},
		breaker: newBreaker("recommend", m),
	}
}

// Recommend returns advice text for req.
func (c *RecommendationClient) Recommend(ctx context.Context, req RecommendRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	body, err := c.breaker.execute(ctx, func() ([]byte, error) {
		return post(ctx, c.http, "recommendation service", c.url, "application/json", payload, c.timeout)
	})
	if err != nil {
		return "", err
	}

	var out recommendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode recommendation: %w", err)
	}
	if strings.TrimSpace(out.Recommendation) == "" {
		return NoRecommendation, nil
	}
	return out.Recommendation, nil
}
