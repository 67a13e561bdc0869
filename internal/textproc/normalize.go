// Package textproc turns raw chat messages into text suitable for speech
// synthesis. Normalization is pure: the same message and rules always yield
// the same utterance, and running the output through the normalizer again
// leaves it unchanged.
package textproc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	urlToken  = "(URL)"
	codeToken = "(code)"

	// truncationSuffix is appended when a message exceeds the guild's
	// character limit.
	truncationSuffix = "…以下省略"
)

// Message is the normalizer's view of an incoming chat message.
type Message struct {
	Content string

	// Mentions maps mentioned user IDs to their display names.
	Mentions map[string]string

	// Attachments is the number of files attached to the message.
	Attachments int
}

// Rules are the per-guild normalization toggles.
type Rules struct {
	// MaxChars caps the utterance length in runes. <= 0 disables
	// truncation.
	MaxChars int

	// ReadMentions speaks mentioned users by display name; otherwise
	// mentions are removed.
	ReadMentions bool

	// ReadEmoji speaks custom emoji by name and keeps unicode emoji;
	// otherwise both are removed.
	ReadEmoji bool

	// SkipCodeBlocks elides fenced and inline code as "(code)".
	SkipCodeBlocks bool

	// SkipURLs elides URLs as "(URL)".
	SkipURLs bool

	// ReadAttachments appends an attachment-count utterance.
	ReadAttachments bool
}

// Normalizer rewrites chat markup into speakable text.
type Normalizer struct {
	// now is injectable for deterministic timestamp rendering in tests.
	now func() time.Time
}

// New returns a Normalizer using the wall clock.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock returns a Normalizer with a fixed notion of "now".
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

var (
	timestampRe     = regexp.MustCompile(`<t:(\d+)(?::([tTdDfFR]))?>`)
	userMentionRe   = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe   = regexp.MustCompile(`<@&\d+>`)
	chanMentionRe   = regexp.MustCompile(`<#\d+>`)
	fencedCodeRe    = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe    = regexp.MustCompile("`[^`\n]*`")
	urlRe           = regexp.MustCompile(`https?://[^\s<>]+`)
	customEmojiRe   = regexp.MustCompile(`<a?:(\w+):\d+>`)
	whitespaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize rewrites msg into a speakable utterance under the given rules.
// An empty return value means the message produces no speech.
//
// Rule order matters: markup with angle brackets (timestamps, mentions,
// custom emoji) is resolved around code and URL elision so that elided
// regions cannot resurrect markup, and truncation runs last so tokens are
// never cut in half by earlier rules.
func (n *Normalizer) Normalize(msg Message, r Rules) string {
	s := msg.Content

	s = n.renderTimestamps(s)
	s = renderMentions(s, msg.Mentions, r.ReadMentions)

	if r.SkipCodeBlocks {
		s = fencedCodeRe.ReplaceAllString(s, codeToken)
		s = inlineCodeRe.ReplaceAllString(s, codeToken)
	}
	if r.SkipURLs {
		s = urlRe.ReplaceAllString(s, urlToken)
	}

	if r.ReadEmoji {
		s = customEmojiRe.ReplaceAllString(s, "$1")
	} else {
		s = customEmojiRe.ReplaceAllString(s, "")
		s = stripEmoji(s)
	}

	s = whitespaceRunRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	s = truncate(s, r.MaxChars)

	if r.ReadAttachments && msg.Attachments > 0 {
		suffix := strconv.Itoa(msg.Attachments) + " attachments"
		if msg.Attachments == 1 {
			suffix = "1 attachment"
		}
		if s == "" {
			s = suffix
		} else {
			s += " " + suffix
		}
	}

	return s
}

// renderTimestamps replaces Discord timestamp markup <t:unix[:style]> with a
// spoken date or time. The :R style renders relative to now.
func (n *Normalizer) renderTimestamps(s string) string {
	return timestampRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := timestampRe.FindStringSubmatch(m)
		unix, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return ""
		}
		ts := time.Unix(unix, 0).In(time.Local)
		switch sub[2] {
		case "t", "T":
			return ts.Format("15:04")
		case "d", "D":
			return ts.Format("January 2, 2006")
		case "R":
			return relative(n.now(), ts)
		default:
			return ts.Format("January 2, 2006 15:04")
		}
	})
}

// relative renders ts as a coarse spoken offset from now.
func relative(now, ts time.Time) string {
	d := ts.Sub(now)
	past := d < 0
	if past {
		d = -d
	}

	var span string
	switch {
	case d < time.Minute:
		span = "moments"
	case d < time.Hour:
		span = fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		span = fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		span = fmt.Sprintf("%d days", int(d.Hours()/24))
	}

	if past {
		return span + " ago"
	}
	return "in " + span
}

// renderMentions resolves user mentions to display names and removes role
// and channel mention markup.
func renderMentions(s string, names map[string]string, read bool) string {
	s = userMentionRe.ReplaceAllStringFunc(s, func(m string) string {
		if !read {
			return ""
		}
		id := userMentionRe.FindStringSubmatch(m)[1]
		if name, ok := names[id]; ok {
			return name
		}
		return ""
	})
	s = roleMentionRe.ReplaceAllString(s, "")
	s = chanMentionRe.ReplaceAllString(s, "")
	return s
}

// truncate caps s at max runes, appending the elision suffix when anything
// was cut. Text already ending in the suffix is never re-truncated shorter.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if strings.HasSuffix(s, truncationSuffix) && len(runes) <= max+len([]rune(truncationSuffix)) {
		return s
	}
	return string(runes[:max]) + truncationSuffix
}

// stripEmoji removes unicode emoji and their joiners/modifiers.
func stripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		if isEmojiRune(r) {
			return -1
		}
		return r
	}, s)
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // emoji, pictographs, flags, modifiers
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r == 0x200D: // zero-width joiner
		return true
	}
	return false
}
