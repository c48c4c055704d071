package domain

// SendMessageCommand carries an inbound message before validation.
// ChatID wins over ReceiverID when both are set.
type SendMessageCommand struct {
	SenderID   UserID
	ChatID     ChatID
	ReceiverID UserID
	Content    string
	Image      []byte
}

func (c SendMessageCommand) TargetsChat() bool { return c.ChatID != 0 }
