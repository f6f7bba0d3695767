package models

import (
	"fmt"
	"net/url"
	"time"
)

type EventKind string

const (
	EventView     EventKind = "view"
	EventDownload EventKind = "download"
)

type Mode string

const (
	ModeStream   Mode = "stream"
	ModeDownload Mode = "download"
)

// Event returns the stats event recorded when a request in this mode completes.
func (m Mode) Event() EventKind {
	if m == ModeDownload {
		return EventDownload
	}
	return EventView
}

// FileRecord is created when a user hands a file to the bot. Only the
// counters change afterwards.
type FileRecord struct {
	FileUniqueID string     `bson:"_id" json:"file_unique_id"`
	FileID       string     `bson:"file_id" json:"file_id"`
	Token        string     `bson:"token" json:"token"`
	ChannelID    int64      `bson:"channel_id" json:"channel_id"`
	MessageID    int        `bson:"message_id" json:"message_id"`
	UserID       int64      `bson:"user_id" json:"user_id"`
	Name         string     `bson:"name" json:"name"`
	Size         int64      `bson:"size" json:"size"`
	MimeType     string     `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	FileType     MediaKind  `bson:"file_type" json:"file_type"`
	Views        int64      `bson:"views" json:"views"`
	Downloads    int64      `bson:"downloads" json:"downloads"`
	LastAccessed *time.Time `bson:"last_accessed,omitempty" json:"last_accessed,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
}

// WatchPath is the stream link relative to the public base URL.
func (r FileRecord) WatchPath() string {
	return fmt.Sprintf("watch/%d/%s?hash=%s", r.MessageID, url.PathEscape(r.Name), r.Token)
}

// DownloadPath is the download link relative to the public base URL.
func (r FileRecord) DownloadPath() string {
	return fmt.Sprintf("dl/%d/%s?hash=%s", r.MessageID, url.PathEscape(r.Name), r.Token)
}

// StreamRequest is built from one inbound HTTP request.
type StreamRequest struct {
	MessageID int
	FileName  string
	Token     string
	Mode      Mode
}

// ResolvedFile is a verified, live reference to a file in the bin channel.
// Size and MimeType come from Telegram at serve time.
type ResolvedFile struct {
	Media    *Media
	FileName string
	Size     int64
	MimeType string
}

// FileTotals aggregates counters over all file records.
type FileTotals struct {
	Files     int64 `json:"total_files"`
	Size      int64 `json:"total_size"`
	Views     int64 `json:"total_views"`
	Downloads int64 `json:"total_downloads"`
}
