package domain

import "time"

// InboundMessage is a group message as delivered by a transport channel.
type InboundMessage struct {
	Channel         string
	ChatID          int64
	ChatType        string // group | supergroup | channel | private
	SenderID        int64  // 0 when the message has no user sender (channel posts)
	MessageID       int
	Text            string
	Caption         string
	Entities        []MessageEntity
	CaptionEntities []MessageEntity
	Media           MediaFlags
	Timestamp       time.Time
}

type MessageEntity struct {
	Type   string // text_link | url | mention | ...
	Offset int
	Length int
	URL    string // set for text_link entities
}

// MediaFlags marks which attachments a message carries.
type MediaFlags struct {
	Photo     bool
	Video     bool
	Document  bool
	Audio     bool
	Voice     bool
	Animation bool
	VideoNote bool
	Sticker   bool
}

// HasSender reports whether the message was sent by a user.
func (m InboundMessage) HasSender() bool {
	return m.SenderID != 0
}
