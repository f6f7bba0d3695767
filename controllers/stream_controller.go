package controllers

import (
	"net/http"
	"strconv"

	"telegram-filestream/models"
	"telegram-filestream/services"

	"github.com/gin-gonic/gin"
)

type StreamController struct {
	streams *services.StreamService
}

func NewStreamController(streams *services.StreamService) *StreamController {
	return &StreamController{streams: streams}
}

// Watch serves GET|HEAD /watch/:message_id/:filename?hash=
func (sc *StreamController) Watch(c *gin.Context) {
	sc.serve(c, models.ModeStream)
}

// Download serves GET|HEAD /dl/:message_id/:filename?hash=
func (sc *StreamController) Download(c *gin.Context) {
	sc.serve(c, models.ModeDownload)
}

func (sc *StreamController) serve(c *gin.Context, mode models.Mode) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	hash := c.Query("hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing hash"})
		return
	}

	sc.streams.Serve(c.Writer, c.Request, models.StreamRequest{
		MessageID: messageID,
		FileName:  c.Param("filename"),
		Token:     hash,
		Mode:      mode,
	})
}

// Thumbnail serves GET /thumb/:message_id?hash=
func (sc *StreamController) Thumbnail(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	hash := c.Query("hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing hash"})
		return
	}
	sc.streams.ServeThumbnail(c.Writer, c.Request, messageID, hash)
}

func messageIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("message_id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return id, true
}
