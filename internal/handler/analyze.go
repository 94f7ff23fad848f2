package handler

import (
    "errors"
    "io"
    "math"
    "net/http"
    "strconv"
    "strings"
    "unicode/utf8"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/leafguard/internal/imaging"
    "github.com/iliyamo/leafguard/internal/metrics"
    "github.com/iliyamo/leafguard/internal/middleware"
    "github.com/iliyamo/leafguard/internal/service"
)

// AnalyzeHandler accepts a plant image and returns its diagnosis.
type AnalyzeHandler struct {
    Analysis       *service.AnalysisService
    MaxUploadBytes int64
    Metrics        *metrics.Metrics
}

type analyzeResp struct {
    Status         string `json:"status"`
    Recommendation string `json:"recommendation"`
    ImageURL       string `json:"imageUrl"`
    ThumbnailURL   string `json:"thumbnailUrl"`
}

// Analyze handles POST /analyze (multipart: image, plantType, waterFreq, language).
func (h *AnalyzeHandler) Analyze(c echo.Context) error {
    fh, err := c.FormFile("image")
    if err != nil {
        if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "image file is required"})
        }
        var he *echo.HTTPError
        if errors.As(err, &he) {
            return err
        }
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart body"})
    }
    if fh.Size > h.MaxUploadBytes {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "image exceeds the maximum upload size"})
    }
    contentType := fh.Header.Get(echo.HeaderContentType)
    if !strings.HasPrefix(contentType, "image/") {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "only image uploads are allowed"})
    }

    plantType := strings.TrimSpace(c.FormValue("plantType"))
    rawFreq := strings.TrimSpace(c.FormValue("waterFreq"))
    if plantType == "" || rawFreq == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "plantType and waterFreq are required"})
    }
    if utf8.RuneCountInString(plantType) > service.MaxPlantTypeLength {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "plantType must be at most 100 characters"})
    }
    waterFreq, err := strconv.ParseFloat(rawFreq, 64)
    if err != nil || math.IsNaN(waterFreq) || math.IsInf(waterFreq, 0) {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "waterFreq must be a number"})
    }
    language := strings.TrimSpace(c.FormValue("language"))
    if language == "" {
        language = "en"
    }

    f, err := fh.Open()
    if err != nil {
        return err
    }
    defer f.Close()
    data, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
    if err != nil {
        return err
    }
    if int64(len(data)) > h.MaxUploadBytes {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "image exceeds the maximum upload size"})
    }

    res, err := h.Analysis.Analyze(c.Request().Context(), service.AnalyzeInput{
        UserID:    middleware.UserID(c),
        PlantType: plantType,
        WaterFreq: waterFreq,
        Language:  language,
        Image:     imaging.Image{Data: data, ContentType: contentType},
    })
    if err != nil {
        return respondError(c, err)
    }
    h.Metrics.ObserveAnalysis(res.Degraded)

    return c.JSON(http.StatusOK, analyzeResp{
        Status:         res.Status,
        Recommendation: res.Recommendation,
        ImageURL:       res.ImageURL,
        ThumbnailURL:   res.ThumbnailURL,
    })
}
