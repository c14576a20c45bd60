package channels

import "unicode/utf8"

// DiscordMaxMessageLength is Discord's per-message limit in characters.
const DiscordMaxMessageLength = 2000

// SplitMessage cuts text into successive chunks of at most limit runes.
// Cuts always fall on rune boundaries. Invalid UTF-8 bytes count as one
// rune each and are kept as is.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		cut, runes := 0, 0
		for cut < len(text) && runes < limit {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
			runes++
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}
