package speech

import "strings"

// Filler utterances that must not trigger an answer cycle when they
// arrive as a complete final transcript.
var noisePhrases = map[string]bool{
	"hello": true, "thank you": true, "yeah": true, "thanks": true,
	"okay": true, "welcome": true, "you": true,
	"uh": true, "um": true, "oh": true, "hmm": true, "mhm": true,
	"alright": true, "right": true, "hi": true,
	"goodbye": true, "bye": true, "yes": true, "no": true, "done": true,
}

// IsNoise reports whether a final transcript is conversational filler:
// fewer than two words, or a stoplisted phrase.
func IsNoise(text string) bool {
	if len(strings.Fields(text)) < 2 {
		return true
	}
	normalized := strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".")
	return noisePhrases[normalized]
}
