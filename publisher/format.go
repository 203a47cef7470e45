package publisher

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// PermalinkHost serves public channel message links.
const PermalinkHost = "t.me"

// SentAtLayout is the time format used in owner notifications.
const SentAtLayout = "2006-01-02 15:04"

const (
	notificationTitle  = "✅ Post published:"
	bulletChannel      = "• Channel: @"
	bulletHeadline     = "• Headline: "
	bulletTime         = "• Time: "
	bulletLink         = "• Link: "
	headlineOpenQuote  = "«"
	headlineCloseQuote = "»"
)

// Permalink builds https://t.me/<handle>/<id>.
func Permalink(handle string, messageID int64) string {
	return fmt.Sprintf("https://%s/%s/%d", PermalinkHost, strings.TrimPrefix(handle, "@"), messageID)
}

// ParsePermalink is the inverse of Permalink.
func ParsePermalink(link string) (string, int64, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", 0, err
	}
	if u.Host != PermalinkHost {
		return "", 0, fmt.Errorf("permalink host %q is not %s", u.Host, PermalinkHost)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, fmt.Errorf("permalink path %q is not /<handle>/<id>", u.Path)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("permalink message id: %w", err)
	}
	return parts[0], id, nil
}

// OwnerNotification renders the plain-text report sent to the owner.
func OwnerNotification(handle, headline string, d Delivery) string {
	handle = strings.TrimPrefix(handle, "@")
	link := d.Permalink
	if link == "" {
		link = Permalink(handle, d.MessageID)
	}
	var sb strings.Builder
	sb.WriteString(notificationTitle + "\n")
	sb.WriteString(bulletChannel + handle + "\n")
	sb.WriteString(bulletHeadline + headlineOpenQuote + headline + headlineCloseQuote + "\n")
	sb.WriteString(bulletTime + d.Date.Local().Format(SentAtLayout) + "\n")
	sb.WriteString(bulletLink + link)
	return sb.String()
}

// Notification is a parsed owner notification.
type Notification struct {
	Handle    string
	Headline  string
	SentAt    time.Time
	MessageID int64
	Link      string
}

// ParseNotification reads back a message produced by OwnerNotification.
func ParseNotification(text string) (Notification, error) {
	var n Notification
	var haveTime bool
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, bulletChannel):
			n.Handle = strings.TrimPrefix(line, bulletChannel)
		case strings.HasPrefix(line, bulletHeadline):
			h := strings.TrimPrefix(line, bulletHeadline)
			h = strings.TrimPrefix(h, headlineOpenQuote)
			n.Headline = strings.TrimSuffix(h, headlineCloseQuote)
		case strings.HasPrefix(line, bulletTime):
			t, err := time.ParseInLocation(SentAtLayout, strings.TrimPrefix(line, bulletTime), time.Local)
			if err != nil {
				return Notification{}, fmt.Errorf("notification time: %w", err)
			}
			n.SentAt, haveTime = t, true
		case strings.HasPrefix(line, bulletLink):
			n.Link = strings.TrimPrefix(line, bulletLink)
		}
	}
	if n.Link == "" || !haveTime {
		return Notification{}, errors.New("notification is missing link or time")
	}
	handle, id, err := ParsePermalink(n.Link)
	if err != nil {
		return Notification{}, err
	}
	if n.Handle == "" {
		n.Handle = handle
	}
	n.MessageID = id
	return n, nil
}

// BuildCaption renders the bold headline followed by the body, in Telegram HTML.
func BuildCaption(headline, bodyMarkdown string) (string, error) {
	body, err := MarkdownToTelegramHTML(bodyMarkdown)
	if err != nil {
		return "", err
	}
	headline = strings.TrimSpace(headline)
	if headline == "" {
		return body, nil
	}
	return "<b>" + html.EscapeString(headline) + "</b>\n\n" + body, nil
}

// MarkdownToTelegramHTML converts Markdown with goldmark and rewrites the
// output into the tag subset the Bot API accepts.
func MarkdownToTelegramHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := telegramMarkdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return normalizeForTelegram(buf.String()), nil
}

// telegramMarkdown renders lists as plain bullet lines; everything else goes
// through the default HTML renderer and is filtered afterwards.
var telegramMarkdown = goldmark.New(
	goldmark.WithRendererOptions(
		renderer.WithNodeRenderers(util.Prioritized(listRenderer{}, 100)),
	),
)

var (
	headingRe   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	paragraphRe = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	brRe        = regexp.MustCompile(`<br\s*/?>`)
	commentRe   = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe       = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9-]*)[^>]*>`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// telegramTags is the Bot API HTML allowlist.
var telegramTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true, "u": true, "ins": true,
	"s": true, "strike": true, "del": true, "a": true, "code": true, "pre": true,
	"blockquote": true, "tg-spoiler": true, "span": true,
}

// listRenderer 把列表展开成带符号的行，嵌套列表每层缩进两个空格。
type listRenderer struct{}

func (r listRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindList, r.renderList)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindParagraph, r.renderParagraph)
}

func (r listRenderer) renderList(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering && listDepth(n) == 0 {
		_ = w.WriteByte('\n')
	}
	return ast.WalkContinue, nil
}

func (r listRenderer) renderListItem(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	list, _ := n.Parent().(*ast.List)
	if !entering {
		if n.LastChild() == nil || n.LastChild().Kind() != ast.KindList {
			_ = w.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	}
	depth := 0
	if list != nil {
		depth = listDepth(list)
	}
	_, _ = w.WriteString(strings.Repeat("  ", depth))
	switch {
	case list != nil && list.IsOrdered():
		pos := list.Start
		for p := n.PreviousSibling(); p != nil; p = p.PreviousSibling() {
			pos++
		}
		_, _ = w.WriteString(strconv.Itoa(pos) + ". ")
	case depth > 0:
		_, _ = w.WriteString("◦ ")
	default:
		_, _ = w.WriteString("• ")
	}
	return ast.WalkContinue, nil
}

// renderParagraph drops the <p> wrapper inside list items so an item stays on
// one line; other paragraphs render as usual.
func (r listRenderer) renderParagraph(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if n.Parent() != nil && n.Parent().Kind() == ast.KindListItem {
		if !entering && n.NextSibling() != nil {
			_ = w.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	}
	if entering {
		_, _ = w.WriteString("<p>")
	} else {
		_, _ = w.WriteString("</p>\n")
	}
	return ast.WalkContinue, nil
}

// listDepth counts the lists enclosing list n.
func listDepth(n ast.Node) int {
	depth := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindList {
			depth++
		}
	}
	return depth
}

func convertHeadingsForTelegram(s string) string {
	return headingRe.ReplaceAllString(s, "<b>$1</b>\n\n")
}

func normalizeForTelegram(s string) string {
	s = commentRe.ReplaceAllString(s, "")
	s = convertHeadingsForTelegram(s)
	s = paragraphRe.ReplaceAllString(s, "$1\n\n")
	s = brRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllStringFunc(s, func(tag string) string {
		m := tagRe.FindStringSubmatch(tag)
		if telegramTags[strings.ToLower(m[1])] {
			return tag
		}
		return ""
	})
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
