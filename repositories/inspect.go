package repositories

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Entry is the human readable form of one stored key, for inspection tools.
type Entry struct {
	Key    string
	Kind   string
	Detail string
}

// Describe decodes a stored key and its value. Undecodable values are
// reported in Detail rather than failing.
func Describe(key, val []byte) Entry {
	entry := Entry{Key: string(key), Kind: "raw", Detail: fmt.Sprintf("%d bytes", len(val))}
	kind, _, _ := bytes.Cut(key, []byte(":"))
	switch string(kind) {
	case "user":
		var record userRecord
		if err := unmarshal(val, &record); err != nil {
			entry.Detail = err.Error()
			break
		}
		entry.Kind = "user"
		entry.Detail = fmt.Sprintf("%s <%s> verified=%t", record.Name, record.Email, record.Verified)
	case "chat":
		var record chatRecord
		if err := unmarshal(val, &record); err != nil {
			entry.Detail = err.Error()
			break
		}
		entry.Kind = record.Kind
		entry.Detail = fmt.Sprintf("%q members=%v created=%s", record.Name, record.Members,
			time.Unix(0, record.CreatedAt).UTC().Format(time.RFC3339))
	case "msg":
		var record messageRecord
		if err := unmarshal(val, &record); err != nil {
			entry.Detail = err.Error()
			break
		}
		entry.Kind = "message"
		content := record.Content
		if len(record.Image) > 0 {
			content = strings.TrimSpace(fmt.Sprintf("%s [%s %d bytes]", content, record.ImageType, len(record.Image)))
		}
		entry.Detail = fmt.Sprintf("%d -> chat %d: %s", record.SenderID, record.ChatID, content)
	case "email", "pair":
		entry.Kind = "index"
		entry.Detail = "-> " + string(val)
	case "member":
		entry.Kind = "index"
		entry.Detail = "membership"
	case "seq":
		entry.Kind = "sequence"
	}
	return entry
}
