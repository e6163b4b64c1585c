package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/chunkup/cmd/api-gateway/middleware"
	apitypes "github.com/lgulliver/chunkup/cmd/api-gateway/types"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/rs/zerolog/log"
)

// form fields the protocol reads itself; everything else is kept as upload metadata
var reservedFields = map[string]bool{
	"file":       true,
	"upload_id":  true,
	"group_id":   true,
	"field_name": true,
	"checksum":   true,
}

// UploadRoutes sets up the chunked upload protocol routes
func UploadRoutes(api *gin.RouterGroup, uploadService UploadServiceInterface, authService AuthServiceInterface, protocolConstraint string) {
	uploads := api.Group("/uploads")
	uploads.Use(middleware.OptionalAuthMiddleware(authService))
	uploads.Use(middleware.ProtocolVersion(protocolConstraint))

	uploads.POST("", handleAppendChunk(uploadService))
	uploads.POST("/complete", handleComplete(uploadService))
	uploads.GET("/resume", handleResume(uploadService))
	uploads.GET("/:id", handleStatus(uploadService))
	uploads.DELETE("/:id", handleDelete(uploadService))
}

// respondError writes protocol errors with their own status and hides internal ones
func respondError(c *gin.Context, err error) {
	var uploadErr *upload.Error
	if errors.As(err, &uploadErr) {
		c.JSON(uploadErr.StatusCode(), uploadErr)
		return
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("upload request failed")
	c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "internal server error"})
}

func handleAppendChunk(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			respondError(c, upload.NewError(upload.KindMalformedRequest, "No chunk file was submitted"))
			return
		}

		chunk, err := header.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer chunk.Close()

		attrs := make(map[string]string)
		if c.Request.MultipartForm != nil {
			for key, values := range c.Request.MultipartForm.Value {
				if !reservedFields[key] && len(values) > 0 {
					attrs[key] = values[0]
				}
			}
		}

		result, err := uploadService.AppendChunk(c.Request.Context(), &upload.AppendRequest{
			UploadID:        c.PostForm("upload_id"),
			GroupID:         c.PostForm("group_id"),
			FieldName:       c.PostForm("field_name"),
			Filename:        header.Filename,
			Chunk:           chunk,
			ChunkSize:       header.Size,
			ContentRange:    c.GetHeader("Content-Range"),
			Owner:           middleware.OwnerFromContext(c),
			ContentChecksum: c.PostForm("checksum"),
			Attrs:           attrs,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleComplete(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadID := c.PostForm("upload_id")

		claims := make(map[string]string)
		for key, values := range c.Request.PostForm {
			if key != "upload_id" && len(values) > 0 && values[0] != "" {
				claims[key] = values[0]
			}
		}

		result, err := uploadService.CompleteUpload(c.Request.Context(), &upload.CompleteRequest{
			UploadID: uploadID,
			Owner:    middleware.OwnerFromContext(c),
			Claims:   claims,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleResume(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := uploadService.ResumeLookup(c.Request.Context(), middleware.OwnerFromContext(c), c.Query("checksum"))
		if err != nil {
			respondError(c, err)
			return
		}
		if result == nil {
			respondError(c, upload.NewError(upload.KindNotFound, "No upload matches the checksum"))
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleStatus(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		uploads, err := uploadService.Status(c.Request.Context(), middleware.OwnerFromContext(c), id)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := apitypes.StatusResponse{UploadID: id, Sessions: make([]apitypes.SessionStatus, 0, len(uploads))}
		for i, u := range uploads {
			resp.Offset += u.Offset
			expiresAt := u.ExpiresAt(uploadService.ExpirationDelta())
			if i == 0 || expiresAt.Before(resp.ExpiresAt) {
				resp.ExpiresAt = expiresAt
			}
			resp.Sessions = append(resp.Sessions, apitypes.SessionStatus{
				SessionID:   u.ID,
				FieldName:   u.FieldName,
				Filename:    u.Filename,
				Offset:      u.Offset,
				Status:      u.Status,
				CompletedAt: u.CompletedAt,
			})
		}

		c.JSON(http.StatusOK, resp)
	}
}

func handleDelete(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := uploadService.Delete(c.Request.Context(), middleware.OwnerFromContext(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, apitypes.MessageResponse{Message: "upload deleted"})
	}
}
