package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/chunkup/cmd/api-gateway/middleware"
	apitypes "github.com/lgulliver/chunkup/cmd/api-gateway/types"
	"github.com/lgulliver/chunkup/internal/files"
	"github.com/rs/zerolog/log"
)

// FileRoutes serves the files registered from completed uploads
func FileRoutes(api *gin.RouterGroup, fileService FileServiceInterface, authService AuthServiceInterface) {
	group := api.Group("/files")
	group.Use(middleware.AuthMiddleware(authService))

	group.GET("", listFiles(fileService))
	group.GET("/:upload_id", getFile(fileService))
	group.GET("/:upload_id/content", downloadFile(fileService))
}

func listFiles(fileService FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := middleware.OwnerFromContext(c)
		page, perPage := pagination(c)

		list, total, err := fileService.List(c.Request.Context(), *owner, perPage, (page-1)*perPage)
		if err != nil {
			log.Error().Err(err).Msg("failed to list files")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to list files"})
			return
		}

		c.JSON(http.StatusOK, paginated(list, page, perPage, total))
	}
}

func getFile(fileService FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := fileService.Get(c.Request.Context(), c.Param("upload_id"), middleware.OwnerFromContext(c))
		if err != nil {
			fileError(c, err)
			return
		}
		c.JSON(http.StatusOK, file)
	}
}

func downloadFile(fileService FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, content, err := fileService.Download(c.Request.Context(), c.Param("upload_id"), middleware.OwnerFromContext(c))
		if err != nil {
			fileError(c, err)
			return
		}
		defer content.Close()

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
		c.Header("Content-Length", strconv.FormatInt(file.Size, 10))
		c.Header("X-Checksum-SHA256", file.SHA256)
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, content); err != nil {
			log.Error().Err(err).Str("upload_id", file.UploadID).Msg("failed to stream file")
		}
	}
}

func fileError(c *gin.Context, err error) {
	if errors.Is(err, files.ErrNotFound) {
		c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: "file not found"})
		return
	}
	log.Error().Err(err).Msg("file request failed")
	c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "internal server error"})
}
