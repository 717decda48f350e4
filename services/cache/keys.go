package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/upb/biped-api/services/providers"
)

// TextKey is the result key of a text completion
func TextKey(prompt string) string {
	return "complete:" + strconv.FormatUint(xxhash.Sum64String(prompt), 16)
}

// ChatKey is the result key of a chat completion. Role and content both take part.
func ChatKey(messages []providers.Message) string {
	d := xxhash.New()
	for _, m := range messages {
		_, _ = d.WriteString(m.Role)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(m.Content)
		_, _ = d.Write([]byte{0x1e})
	}
	return "chat:" + strconv.FormatUint(d.Sum64(), 16)
}
