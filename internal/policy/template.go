package policy

import (
	"strconv"
	"strings"
)

// ReplyContext carries the values available to a duplicate reply template.
type ReplyContext struct {
	Mention             string // mention of the user who posted the duplicate
	Filename            string // original filename of the duplicate image
	Identifier          string // source identifier of the matched original
	Distance            int    // Hamming distance between the two images
	OriginalUserMention string // mention of the original poster, empty if unknown
	Emoji               string // the configured reaction emoji
	JumpLink            string // link to the original message, empty if unknown
}

// RenderReply expands the template's {placeholder} markers against the reply
// context. Unknown placeholders expand to the empty string so a typo in a
// community's template never breaks replies.
//
// Supported placeholders: {mention}, {filename}, {identifier}, {distance},
// {original_user_mention}, {emoji}, {original_user_info}, {jump_link}.
func RenderReply(template string, ctx ReplyContext) string {
	originalUserInfo := ""
	originalUserMention := "*Unknown*"
	if ctx.OriginalUserMention != "" {
		originalUserInfo = ", Orig User: " + ctx.OriginalUserMention
		originalUserMention = ctx.OriginalUserMention
	}
	jumpLink := ""
	if ctx.JumpLink != "" {
		jumpLink = "\nOriginal: " + ctx.JumpLink
	}

	values := map[string]string{
		"mention":               ctx.Mention,
		"filename":              ctx.Filename,
		"identifier":            ctx.Identifier,
		"distance":              strconv.Itoa(ctx.Distance),
		"original_user_mention": originalUserMention,
		"emoji":                 ctx.Emoji,
		"original_user_info":    originalUserInfo,
		"jump_link":             jumpLink,
	}

	var sb strings.Builder
	sb.Grow(len(template))
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			sb.WriteString(template[i:])
			break
		}
		open += i
		sb.WriteString(template[i:open])
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			sb.WriteString(template[open:])
			break
		}
		end += open
		name := template[open+1 : end]
		sb.WriteString(values[name]) // unknown names expand empty
		i = end + 1
	}
	return sb.String()
}
