package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"travelapi/internal/middleware"
	"travelapi/internal/service"
	"travelapi/pkg/response"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
}

func NewStatisticsHandler(statisticsService service.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/api/requests/stats", middleware.RequireAuth(), h.GetStatistics)
}

// GetStatistics returns request counts by status — admins see the whole
// store, others their own slice
// @Summary      Request statistics
// @Tags         statistics
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.RequestStatistics}
// @Router       /api/requests/stats [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", err.Error()))
		return
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), actor)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
