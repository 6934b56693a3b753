package chat

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nestbay/realtime/pkg/errs"
)

const maxMessageLen = 4096

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<\s*(script|style|iframe)[^>]*>.*?<\s*/\s*(script|style|iframe)\s*>`)
	eventAttrRe    = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	scriptSchemeRe = regexp.MustCompile(`(?i)(javascript|vbscript|data)\s*:`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	urlRe          = regexp.MustCompile(`(?i)https?://[^\s]+`)
)

const (
	maxURLs           = 5
	repeatTokenRatio  = 0.6
	repeatTokenFloor  = 10
	capsRatio         = 0.7
	capsLetterFloor   = 20
)

// sanitize neutralizes executable markup and normalizes whitespace, then
// runs the spam heuristics. Spam gets its own error kind so clients can
// message the user differently from a plain validation failure.
func sanitize(content string) (string, error) {
	clean := strings.TrimSpace(content)
	if clean == "" {
		return "", errs.New(errs.KindInvalid, "message content is empty")
	}
	if len(clean) > maxMessageLen {
		return "", errs.Newf(errs.KindInvalid, "message exceeds %d bytes", maxMessageLen)
	}

	clean = scriptBlockRe.ReplaceAllString(clean, "")
	clean = eventAttrRe.ReplaceAllString(clean, "")
	clean = scriptSchemeRe.ReplaceAllString(clean, "")
	clean = blankRunRe.ReplaceAllString(clean, "\n\n")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "", errs.New(errs.KindInvalid, "message content is empty")
	}

	if err := spamCheck(clean); err != nil {
		return "", err
	}
	return clean, nil
}

func spamCheck(content string) error {
	if len(urlRe.FindAllStringIndex(content, -1)) > maxURLs {
		return errs.New(errs.KindSpam, "too many links")
	}

	tokens := strings.Fields(content)
	if len(tokens) >= repeatTokenFloor {
		counts := make(map[string]int, len(tokens))
		top := 0
		for _, tok := range tokens {
			tok = strings.ToLower(tok)
			counts[tok]++
			if counts[tok] > top {
				top = counts[tok]
			}
		}
		if float64(top)/float64(len(tokens)) > repeatTokenRatio {
			return errs.New(errs.KindSpam, "excessive repetition")
		}
	}

	letters, upper := 0, 0
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= capsLetterFloor && float64(upper)/float64(letters) > capsRatio {
		return errs.New(errs.KindSpam, "excessive capitalization")
	}
	return nil
}
