package bot

import (
	"fmt"

	"telegram-filestream/models"

	"github.com/gabriel-vasile/mimetype"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ExtractMedia returns the first file payload of msg in the order
// document, video, audio, animation, voice, video note, photo, sticker.
// It returns nil for messages without a file.
func ExtractMedia(msg *tgbotapi.Message, botUsername string) *models.Media {
	if msg == nil {
		return nil
	}

	var m *models.Media
	switch {
	case msg.Document != nil:
		d := msg.Document
		m = &models.Media{Kind: models.KindDocument, FileID: d.FileID, FileUniqueID: d.FileUniqueID,
			FileName: d.FileName, MimeType: d.MimeType, FileSize: int64(d.FileSize)}
		setThumb(m, d.Thumbnail)
	case msg.Video != nil:
		v := msg.Video
		m = &models.Media{Kind: models.KindVideo, FileID: v.FileID, FileUniqueID: v.FileUniqueID,
			FileName: v.FileName, MimeType: v.MimeType, FileSize: int64(v.FileSize)}
		setThumb(m, v.Thumbnail)
	case msg.Audio != nil:
		a := msg.Audio
		m = &models.Media{Kind: models.KindAudio, FileID: a.FileID, FileUniqueID: a.FileUniqueID,
			FileName: a.FileName, MimeType: a.MimeType, FileSize: int64(a.FileSize),
			Title: a.Title, Performer: a.Performer}
		setThumb(m, a.Thumbnail)
	case msg.Animation != nil:
		a := msg.Animation
		m = &models.Media{Kind: models.KindAnimation, FileID: a.FileID, FileUniqueID: a.FileUniqueID,
			FileName: a.FileName, MimeType: a.MimeType, FileSize: int64(a.FileSize)}
		setThumb(m, a.Thumbnail)
	case msg.Voice != nil:
		v := msg.Voice
		m = &models.Media{Kind: models.KindVoice, FileID: v.FileID, FileUniqueID: v.FileUniqueID,
			MimeType: v.MimeType, FileSize: int64(v.FileSize)}
	case msg.VideoNote != nil:
		v := msg.VideoNote
		m = &models.Media{Kind: models.KindVideoNote, FileID: v.FileID, FileUniqueID: v.FileUniqueID,
			MimeType: "video/mp4", FileSize: int64(v.FileSize)}
		setThumb(m, v.Thumbnail)
	case len(msg.Photo) > 0:
		// sizes are sorted ascending; serve the largest, preview the smallest
		p := msg.Photo[len(msg.Photo)-1]
		m = &models.Media{Kind: models.KindPhoto, FileID: p.FileID, FileUniqueID: p.FileUniqueID,
			MimeType: "image/jpeg", FileSize: int64(p.FileSize)}
		if len(msg.Photo) > 1 {
			setThumb(m, &msg.Photo[0])
		}
	case msg.Sticker != nil:
		s := msg.Sticker
		m = &models.Media{Kind: models.KindSticker, FileID: s.FileID, FileUniqueID: s.FileUniqueID,
			FileSize: int64(s.FileSize)}
		setThumb(m, s.Thumbnail)
	default:
		return nil
	}

	m.BotUsername = botUsername
	if m.FileName == "" {
		m.FileName = DefaultFileName(m)
	}
	return m
}

func setThumb(m *models.Media, thumb *tgbotapi.PhotoSize) {
	if thumb == nil {
		return
	}
	m.ThumbFileID = thumb.FileID
	m.ThumbSize = int64(thumb.FileSize)
}

// DefaultFileName names media that arrived without a file name.
func DefaultFileName(m *models.Media) string {
	switch m.Kind {
	case models.KindPhoto:
		return fmt.Sprintf("photo_%s.jpg", m.FileUniqueID)
	case models.KindVideo:
		return fmt.Sprintf("video_%s.mp4", m.FileUniqueID)
	case models.KindAudio:
		title, performer := m.Title, m.Performer
		if title == "" {
			title = "audio"
		}
		if performer == "" {
			performer = "unknown"
		}
		return fmt.Sprintf("%s - %s.mp3", performer, title)
	case models.KindVoice:
		return fmt.Sprintf("voice_%s.ogg", m.FileUniqueID)
	case models.KindVideoNote:
		return fmt.Sprintf("video_note_%s.mp4", m.FileUniqueID)
	case models.KindSticker:
		return fmt.Sprintf("sticker_%s.webp", m.FileUniqueID)
	case models.KindAnimation:
		return fmt.Sprintf("animation_%s.gif", m.FileUniqueID)
	}

	name := "file_" + m.FileUniqueID
	if m.MimeType != "" {
		if t := mimetype.Lookup(m.MimeType); t != nil {
			name += t.Extension()
		}
	}
	return name
}
