package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/iliyamo/leafguard/internal/metrics"
)

// UnknownStatus is used when the prediction answer carries no label.
const UnknownStatus = "Unknown"

// MaxStatusLength bounds a label in runes; longer labels are cut.
const MaxStatusLength = 100

var predictionPattern = regexp.MustCompile(`Prediction:\s*(\w+)`)

// PredictionClient posts raw image bytes to {baseURL}/predict.
type PredictionClient struct {
	url     string
	timeout time.Duration
	http    *http.Client
	breaker *breaker
}

func NewPredictionClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *PredictionClient {
	return &PredictionClient{
		url:     strings.TrimRight(baseURL, "/") + "/predict",
		timeout: orDefault(timeout),
		http:    &http.Client{},
		breaker: newBreaker("predict", m),
	}
}

// Predict returns the status label for image.
func (c *PredictionClient) Predict(ctx context.Context, image []byte) (string, error) {
	body, err := c.breaker.execute(ctx, func() ([]byte, error) {
		return post(ctx, c.http, "prediction service", c.url, "application/octet-stream", image, c.timeout)
	})
	if err != nil {
		return "", err
	}
	return ParsePrediction(body), nil
}

// ParsePrediction extracts the label and caps it at MaxStatusLength runes.
func ParsePrediction(body []byte) string {
	label := parseLabel(body)
	if r := []rune(label); len(r) > MaxStatusLength {
		label = string(r[:MaxStatusLength])
	}
	return label
}

// parseLabel extracts the label from a prediction answer.  A JSON
// object yields its "prediction" field, then "status".  A JSON string or
// plain text is searched for "Prediction: <word>".  Anything else is Unknown.
func parseLabel(body []byte) string {
	trimmed := bytes.TrimSpace(body)

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"prediction", "status"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return UnknownStatus
	}

	text := string(trimmed)
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		text = s
	} else if json.Valid(trimmed) {
		// arrays, numbers and friends carry no label
		return UnknownStatus
	}
	if m := predictionPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return UnknownStatus
}
