// Package webmention discovers webmention endpoints and notifies them.
package webmention

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
	xhtml "golang.org/x/net/html"
)

// maxDiscoveryBody bounds how much of the target page is scanned.
const maxDiscoveryBody = 1 << 20

// Discover returns the webmention endpoint advertised by target, or "" if
// there is none. Link headers take precedence over <link> and <a> elements.
func Discover(ctx context.Context, client *http.Client, target string) (string, error) {
	base, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	var endpoint string
	err = requests.URL(target).
		Client(client).
		Accept("text/html").
		Handle(func(res *http.Response) error {
			if endpoint = fromLinkHeaders(res.Header.Values("Link")); endpoint != "" {
				return nil
			}
			if !strings.Contains(res.Header.Get("Content-Type"), "html") {
				return nil
			}
			href, ok := fromHTML(io.LimitReader(res.Body, maxDiscoveryBody))
			switch {
			case !ok:
			case href == "":
				// an empty href names the target itself
				endpoint = target
			default:
				endpoint = href
			}
			return nil
		}).
		Fetch(ctx)
	if err != nil || endpoint == "" {
		return "", err
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Send notifies endpoint that source links to target.
func Send(ctx context.Context, client *http.Client, endpoint, source, target string) (int, error) {
	var status int
	err := requests.URL(endpoint).
		Client(client).
		BodyForm(url.Values{
			"source": {source},
			"target": {target},
		}).
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			return nil
		}).
		CheckStatus(http.StatusOK, http.StatusCreated, http.StatusAccepted).
		Fetch(ctx)
	return status, err
}

// fromLinkHeaders returns the target of the first rel="webmention" link.
func fromLinkHeaders(headers []string) string {
	for _, header := range headers {
		for _, link := range strings.Split(header, ",") {
			parts := strings.Split(link, ";")
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range parts[1:] {
				key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
				if ok && strings.EqualFold(key, "rel") && hasRel(strings.Trim(value, `"`)) {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

// fromHTML returns the href of the first <link> or <a> with rel="webmention".
func fromHTML(r io.Reader) (string, bool) {
	z := xhtml.NewTokenizer(r)
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return "", false
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if tag := string(name); tag != "link" && tag != "a" {
				continue
			}
			var href, rel string
			var hasHref bool
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "href":
					href, hasHref = string(val), true
				case "rel":
					rel = string(val)
				}
			}
			if hasHref && hasRel(rel) {
				return href, true
			}
		}
	}
}

func hasRel(rel string) bool {
	for _, r := range strings.Fields(rel) {
		if strings.EqualFold(r, "webmention") {
			return true
		}
	}
	return false
}
