package models

type MediaKind string

const (
	KindDocument  MediaKind = "document"
	KindVideo     MediaKind = "video"
	KindAudio     MediaKind = "audio"
	KindAnimation MediaKind = "animation"
	KindVoice     MediaKind = "voice"
	KindVideoNote MediaKind = "video_note"
	KindPhoto     MediaKind = "photo"
	KindSticker   MediaKind = "sticker"
)

// Media is the file payload of a Telegram message. FileID is only usable
// by the bot that received it, so BotUsername travels with it.
type Media struct {
	Kind         MediaKind
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
	Title        string
	Performer    string
	ThumbFileID  string
	ThumbSize    int64
	BotUsername  string
}

// Message is a message located in a channel. Media is nil for text-only messages.
type Message struct {
	ChannelID int64
	MessageID int
	Media     *Media
}
