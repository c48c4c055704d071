package repositories

import (
	"chat-relay/domain"
	"fmt"
)

// Key layout. Ids are zero padded to 19 digits so that lexicographical order
// is numerical order.
//
//	user:{user}                 -> userRecord
//	email:{email}               -> user id
//	chat:{chat}                 -> chatRecord
//	pair:{low}:{high}           -> chat id of the direct chat of the pair
//	member:{user}:{chat}        -> empty, membership index
//	msg:{chat}:{unixnano}:{id}  -> messageRecord
const (
	userSequence    = "seq:user"
	chatSequence    = "seq:chat"
	messageSequence = "seq:msg"
	maxPadded       = "9999999999999999999"
)

func userKey(id domain.UserID) []byte {
	return []byte(fmt.Sprintf("user:%019d", id))
}

func emailKey(email string) []byte {
	return []byte("email:" + email)
}

func chatKey(id domain.ChatID) []byte {
	return []byte(fmt.Sprintf("chat:%019d", id))
}

func pairKey(p domain.PairKey) []byte {
	return []byte(fmt.Sprintf("pair:%019d:%019d", p.Low, p.High))
}

func memberPrefix(userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("member:%019d:", userID))
}

func memberKey(userID domain.UserID, chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("member:%019d:%019d", userID, chatID))
}

func messagePrefix(chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("msg:%019d:", chatID))
}

// messageKey orders by creation time first, then by id for messages created
// within the same nanosecond.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%019d:%019d:%019d", m.ChatID, m.CreatedAt.UnixNano(), m.ID))
}
