// Package domain contains core concepts of the chat system.
// This file defines conversations and their membership invariants.
package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
)

type ChatID int64

type ChatKind string

const (
	DirectChat ChatKind = "one-to-one"
	GroupChat  ChatKind = "group"
)

// Chat is a conversation. Members are kept sorted and unique.
type Chat struct {
	ID        ChatID
	Kind      ChatKind
	Name      string
	Members   []UserID
	CreatedAt time.Time
}

// PairKey identifies the unordered pair of a direct chat.
// PairKey(a, b) == PairKey(b, a).
type PairKey struct {
	Low  UserID
	High UserID
}

func NewPairKey(a, b UserID) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (p PairKey) String() string {
	return fmt.Sprintf("%d:%d", p.Low, p.High)
}

func NewDirectChat(a, b UserID, at time.Time) Chat {
	key := NewPairKey(a, b)
	return Chat{
		Kind:      DirectChat,
		Members:   []UserID{key.Low, key.High},
		CreatedAt: at,
	}
}

func NewGroupChat(name string, members []UserID, at time.Time) Chat {
	return Chat{
		Kind:      GroupChat,
		Name:      name,
		Members:   NormalizeMembers(members),
		CreatedAt: at,
	}
}

// NormalizeMembers deduplicates and sorts member ids.
func NormalizeMembers(members []UserID) []UserID {
	res := lo.Uniq(members)
	slices.Sort(res)
	return res
}

func (c Chat) IsDirect() bool { return c.Kind == DirectChat }

func (c Chat) HasMember(id UserID) bool {
	return lo.Contains(c.Members, id)
}

// Pair returns the pair key of a direct chat.
func (c Chat) Pair() (PairKey, bool) {
	if !c.IsDirect() || len(c.Members) != 2 {
		return PairKey{}, false
	}
	return NewPairKey(c.Members[0], c.Members[1]), true
}

// OtherMember returns the counterpart of id in a direct chat.
func (c Chat) OtherMember(id UserID) (UserID, bool) {
	if !c.IsDirect() {
		return 0, false
	}
	for _, m := range c.Members {
		if m != id {
			return m, true
		}
	}
	return 0, false
}

// MembersExcept lists every member but id.
func (c Chat) MembersExcept(id UserID) []UserID {
	return lo.Without(c.Members, id)
}
