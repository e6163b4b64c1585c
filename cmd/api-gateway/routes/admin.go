package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/cmd/api-gateway/middleware"
	"github.com/lgulliver/chunkup/internal/auth"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/rs/zerolog/log"
)

const maxPerPage = 200

// AdminRoutes sets up upload administration routes
func AdminRoutes(api *gin.RouterGroup, uploadService UploadServiceInterface, sweeper SweeperInterface, authService AuthServiceInterface) {
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(authService))
	admin.Use(middleware.AdminOnly())

	admin.GET("/uploads", listUploads(uploadService))
	admin.POST("/uploads/sweep", sweepUploads(sweeper))
	admin.GET("/users/:id", getUser(authService))
	admin.PUT("/users/:id/active", setUserActive(authService))
}

// pagination reads page and per_page query parameters
func pagination(c *gin.Context) (page, perPage int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err = strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if err != nil || perPage < 1 {
		perPage = 50
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func paginated(data interface{}, page, perPage int, total int64) types.PaginatedResponse {
	return types.PaginatedResponse{
		APIResponse: types.APIResponse{Success: true, Data: data},
		Pagination: &types.PaginationInfo{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: int((total + int64(perPage) - 1) / int64(perPage)),
		},
	}
}

// listUploads filters uploads by status, owner and a filename or id search
func listUploads(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)
		filter := &types.UploadFilter{
			Status: types.UploadStatus(c.Query("status")),
			Search: c.Query("search"),
			Limit:  perPage,
			Offset: (page - 1) * perPage,
		}

		switch filter.Status {
		case "", types.StatusUploading, types.StatusComplete, types.StatusFailed:
		default:
			c.JSON(http.StatusBadRequest, types.APIResponse{Error: "unknown status " + string(filter.Status)})
			return
		}

		if owner := c.Query("owner"); owner != "" {
			id, err := uuid.Parse(owner)
			if err != nil {
				c.JSON(http.StatusBadRequest, types.APIResponse{Error: "invalid owner id"})
				return
			}
			filter.OwnerID = &id
		}

		uploads, total, err := uploadService.List(c.Request.Context(), filter)
		if err != nil {
			log.Error().Err(err).Msg("failed to list uploads")
			c.JSON(http.StatusInternalServerError, types.APIResponse{Error: "failed to list uploads"})
			return
		}

		c.JSON(http.StatusOK, paginated(uploads, page, perPage, total))
	}
}

// sweepUploads runs an expiration sweep now
func sweepUploads(sweeper SweeperInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := sweeper.Sweep(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("manual sweep failed")
			c.JSON(http.StatusInternalServerError, types.APIResponse{Error: "sweep failed"})
			return
		}

		failed := make([]string, 0, len(report.Failures))
		for _, f := range report.Failures {
			failed = append(failed, f.UploadID)
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: len(failed) == 0,
			Data: gin.H{
				"deleted":     report.Total(),
				"by_status":   report.Deleted,
				"orphans":     report.Orphans,
				"freed_bytes": report.FreedBytes,
				"failed":      failed,
			},
		})
	}
}

func getUser(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Error: "invalid user id"})
			return
		}

		user, err := authService.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, types.APIResponse{Error: "user not found"})
				return
			}
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get user")
			c.JSON(http.StatusInternalServerError, types.APIResponse{Error: "failed to get user"})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: user})
	}
}

// setUserActive enables or disables an account. Admins cannot disable themselves.
func setUserActive(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Error: "invalid user id"})
			return
		}

		var req struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Error: "invalid request: " + err.Error()})
			return
		}

		if caller, _ := middleware.GetUserFromContext(c); caller != nil && caller.ID == userID && !*req.Active {
			c.JSON(http.StatusBadRequest, types.APIResponse{Error: "cannot disable your own account"})
			return
		}

		if err := authService.SetActive(c.Request.Context(), userID, *req.Active); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, types.APIResponse{Error: "user not found"})
				return
			}
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to update user")
			c.JSON(http.StatusInternalServerError, types.APIResponse{Error: "failed to update user"})
			return
		}

		log.Info().Str("user_id", userID.String()).Bool("active", *req.Active).Msg("user activation changed")
		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: gin.H{"id": userID, "active": *req.Active}})
	}
}
