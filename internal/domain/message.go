package domain

import "time"

type Message struct {
	ID          string
	ChatID      string
	Seq         int64 // позиция в логе чата, 1..N, назначается при коммите
	SenderID    string
	Content     string
	SentAt      time.Time
	ClientMsgID string
}
