package domain

import "fmt"

// Channel is the delivery address of one user. Every session bound to the user
// observes what is pushed to it. Channels are compared by user id, never by name.
type Channel struct {
	UserID UserID `json:"userId"`
}

func ChannelFor(id UserID) Channel {
	return Channel{UserID: id}
}

func (c Channel) String() string {
	return fmt.Sprintf("user:%d", c.UserID)
}
