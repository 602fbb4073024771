package fetch

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"clawmon/internal/usage"
)

var (
	percentRe = regexp.MustCompile(`(\d{1,3})%\s*used`)
	resetRe   = regexp.MustCompile(`[Rr]esets?\s+(?:in\s+)?((?:\d+d\s*)?(?:\d+h\s*)?(?:\d+m)?)`)
)

// ScrapeUsageText pulls the session utilization and reset string out of the
// page's visible text. This is the last line of defense when endpoint
// discovery found nothing; if even the percentage is missing the page layout
// has changed and the user should be told so.
func ScrapeUsageText(text string) (*usage.Snapshot, error) {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return nil, &Error{
			Kind: FailLayoutChanged,
			Err:  errors.New("no usage percentage in page text; the usage page layout may have changed"),
		}
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct > 100 {
		return nil, &Error{Kind: FailLayoutChanged, Err: errors.New("implausible usage percentage in page text")}
	}

	snap := &usage.Snapshot{
		SessionPercent: pct,
		SessionReset:   "Unknown",
		Scraped:        true,
		CapturedAt:     time.Now(),
	}
	if rm := resetRe.FindStringSubmatch(text); rm != nil {
		if reset := strings.TrimSpace(rm[1]); reset != "" {
			snap.SessionReset = reset
		}
	}
	return snap, nil
}

// VisibleText flattens an HTML document to the text a user would see,
// skipping script and style subtrees.
func VisibleText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(sb.String())
}
