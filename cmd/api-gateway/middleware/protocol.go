package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/utils"
)

// ProtocolHeader carries the client's upload protocol version
const ProtocolHeader = "X-Upload-Protocol"

// ProtocolVersion rejects clients whose declared protocol version does not
// satisfy constraint. Clients that send no version are accepted.
func ProtocolVersion(constraint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		version := c.GetHeader(ProtocolHeader)
		if version == "" {
			c.Next()
			return
		}

		ok, err := utils.CheckProtocolVersion(version, constraint)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, upload.NewError(upload.KindMalformedRequest, "%v", err))
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, upload.NewError(upload.KindMalformedRequest,
				"protocol version %s is not supported, server requires %s", version, constraint))
			return
		}
		c.Next()
	}
}
