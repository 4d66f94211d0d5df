// Package markdown renders post sources to HTML and collects the hashtags,
// mentions and links they contain.
package markdown

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	xhtml "golang.org/x/net/html"
)

var (
	hashtagRE = regexp.MustCompile(`(^|\s)#([\p{L}\p{N}_]+)`)
	mentionRE = regexp.MustCompile(`(^|\s)@([\w.-]+)@([\w-]+(?:\.[\w-]+)+)`)
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Mention is a resolved @user@host reference.
type Mention struct {
	// ActorID is the ActivityPub id of the mentioned actor.
	ActorID string
	// URL is the profile page linked from the content.
	URL string
}

// MentionResolver resolves a handle like @user@host.
type MentionResolver func(ctx context.Context, handle string) (*Mention, error)

// Rendered is the result of rendering a source.
type Rendered struct {
	Content string
	// Tags holds Hashtag and Mention tag objects, in order of appearance.
	Tags []map[string]any
	// Mentioned holds the actor ids of resolved mentions.
	Mentioned []string
	// Links holds external links, excluding hashtags and mentions.
	Links []string
	// Unresolved holds handles the resolver failed to find.
	Unresolved []string
}

// Render converts source to HTML. Hashtags link to baseURL/t/<tag>.
func Render(ctx context.Context, source, baseURL string, resolve MentionResolver) (*Rendered, error) {
	var r Rendered
	internal := map[string]bool{}

	source = hashtagRE.ReplaceAllStringFunc(source, func(m string) string {
		sub := hashtagRE.FindStringSubmatch(m)
		tag := sub[2]
		href := baseURL + "/t/" + url.PathEscape(strings.ToLower(tag))
		internal[href] = true
		r.Tags = append(r.Tags, map[string]any{
			"type": "Hashtag",
			"href": href,
			"name": "#" + tag,
		})
		return sub[1] + "[#" + tag + "](" + href + ")"
	})

	source = mentionRE.ReplaceAllStringFunc(source, func(m string) string {
		sub := mentionRE.FindStringSubmatch(m)
		handle := "@" + sub[2] + "@" + sub[3]
		if resolve == nil {
			return m
		}
		mention, err := resolve(ctx, handle)
		if err != nil || mention == nil {
			r.Unresolved = append(r.Unresolved, handle)
			return m
		}
		href := mention.URL
		if href == "" {
			href = mention.ActorID
		}
		internal[href] = true
		r.Mentioned = append(r.Mentioned, mention.ActorID)
		r.Tags = append(r.Tags, map[string]any{
			"type": "Mention",
			"href": mention.ActorID,
			"name": handle,
		})
		return sub[1] + "[@" + sub[2] + "](" + href + ")"
	})

	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return nil, err
	}
	r.Content = buf.String()
	r.Mentioned = algorithms.Uniq(r.Mentioned)
	r.Links = algorithms.Filter(ExternalLinks(r.Content, baseURL), func(link string) bool {
		return !internal[link]
	})
	return &r, nil
}

// ExternalLinks returns the sorted, deduplicated http(s) hrefs of content
// that do not point at baseURL.
func ExternalLinks(content, baseURL string) []string {
	var links []string
	z := xhtml.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			sort.Strings(links)
			return algorithms.Uniq(links)
		case xhtml.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) != "href" {
					continue
				}
				href := string(val)
				u, err := url.Parse(href)
				if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
					continue
				}
				if baseURL != "" && strings.HasPrefix(href, baseURL) {
					continue
				}
				links = append(links, href)
			}
		}
	}
}

// Hashtags returns the lowercased names of the Hashtag tags, without the leading #.
func Hashtags(tags []map[string]any) []string {
	var names []string
	for _, tag := range tags {
		if tag["type"] != "Hashtag" {
			continue
		}
		name, _ := tag["name"].(string)
		names = append(names, strings.ToLower(strings.TrimPrefix(name, "#")))
	}
	return algorithms.Uniq(names)
}
