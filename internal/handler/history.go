package handler

import (
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/leafguard/internal/middleware"
    "github.com/iliyamo/leafguard/internal/model"
    "github.com/iliyamo/leafguard/internal/service"
)

type HistoryHandler struct {
    History *service.HistoryService
}

type historyResp struct {
    Username string               `json:"username"`
    History  []model.HistoryEntry `json:"history"`
    Page     int                  `json:"page"`
    Limit    int                  `json:"limit"`
    Total    int                  `json:"total"`
    Pages    int                  `json:"pages"`
}

// List handles GET /history?page=&limit=.  Missing or non-numeric values
// fall back to the defaults.
func (h *HistoryHandler) List(c echo.Context) error {
    page, _ := strconv.Atoi(c.QueryParam("page"))
    limit, _ := strconv.Atoi(c.QueryParam("limit"))

    res, err := h.History.Get(c.Request().Context(), middleware.UserID(c), page, limit)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, historyResp{
        Username: res.Username,
        History:  res.Entries,
        Page:     res.Page,
        Limit:    res.Limit,
        Total:    res.Total,
        Pages:    res.Pages,
    })
}
