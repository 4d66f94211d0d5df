// Package webfinger implements the parts of RFC 7033 needed to find and
// advertise ActivityPub actors.
package webfinger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
)

// Webfinger is a JSON Resource Descriptor.
type Webfinger struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []Link   `json:"links"`
}

// ActivityPub returns the actor URL advertised by the descriptor.
func (wf *Webfinger) ActivityPub() (string, error) {
	for _, link := range wf.Links {
		if link.Rel == "self" && (link.Type == "application/activity+json" || strings.HasPrefix(link.Type, "application/ld+json")) {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("webfinger: no ActivityPub link for %q", wf.Subject)
}

type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// Acct is a user@host account handle.
type Acct struct {
	User string
	Host string
}

func (a *Acct) String() string {
	return "acct:" + a.User + "@" + a.Host
}

// Webfinger returns the URL for the webfinger resource for this Acct.
func (a *Acct) Webfinger() string {
	return "https://" + a.Host + "/.well-known/webfinger?resource=" + url.QueryEscape(a.String())
}

// Fetch retrieves the descriptor for a from its host.
func (a *Acct) Fetch(ctx context.Context, client *http.Client) (*Webfinger, error) {
	if a.Host == "" {
		return nil, errors.New("webfinger: acct has no host")
	}
	var wf Webfinger
	err := requests.URL(a.Webfinger()).
		Client(client).
		Accept("application/jrd+json").
		ToJSON(&wf).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// Resolve looks up handle, in @user@host or acct:user@host form, and returns
// the ActivityPub id of the actor.
func Resolve(ctx context.Context, client *http.Client, handle string) (string, error) {
	acct, err := Parse(handle)
	if err != nil {
		return "", err
	}
	wf, err := acct.Fetch(ctx, client)
	if err != nil {
		return "", err
	}
	return wf.ActivityPub()
}

// Parse parses an account handle. Accepted forms are acct:user@host,
// @user@host, user@host and a bare user.
func Parse(query string) (*Acct, error) {
	// In case the handle has been URL encoded
	query, err := url.QueryUnescape(query)
	if err != nil {
		return nil, err
	}
	if acct := strings.TrimPrefix(query, "acct:"); acct != query {
		// acct:@host has no user
		query = acct
	} else {
		query = strings.TrimPrefix(query, "@")
	}

	parts := strings.SplitN(query, "@", 2)
	switch {
	case parts[0] == "":
		return nil, fmt.Errorf("invalid acct: %q", query)
	case len(parts) == 1:
		return &Acct{
			User: parts[0],
		}, nil
	case parts[1] == "" || strings.Contains(parts[1], "@"):
		return nil, fmt.Errorf("invalid acct: %q", query)
	default:
		return &Acct{
			User: parts[0],
			Host: parts[1],
		}, nil
	}
}

// Describe returns the descriptor this server publishes for its own actor.
func Describe(username, host, actorID, profileURL string) *Webfinger {
	return &Webfinger{
		Subject: "acct:" + username + "@" + host,
		Aliases: []string{actorID},
		Links: []Link{{
			Rel:  "http://webfinger.net/rel/profile-page",
			Type: "text/html",
			Href: profileURL,
		}, {
			Rel:  "self",
			Type: "application/activity+json",
			Href: actorID,
		}},
	}
}
