// Package domain contains core concepts of the chat system.
// This file defines users as seen by the messaging core.
// Users are created by the auth collaborator; the core only reads them.
package domain

import (
	"strconv"
	"time"
)

type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a decimal identifier as sent in handshakes and URLs.
func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(id), nil
}

type User struct {
	ID        UserID
	Name      string
	Email     string
	Verified  bool
	CreatedAt time.Time
}
