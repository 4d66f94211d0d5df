package activitypub

import (
	"strings"
	"time"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/models"
)

// objectTypes are the content types the engine stores and threads.
var objectTypes = map[string]bool{
	"Note":     true,
	"Article":  true,
	"Page":     true,
	"Question": true,
	"Video":    true,
	"Image":    true,
	"Event":    true,
	"Audio":    true,
}

// IsObjectType reports whether typ is a content type rather than an activity or actor.
func IsObjectType(typ string) bool {
	return objectTypes[typ]
}

// addressing returns the deduplicated to and cc ids of doc.
func addressing(doc map[string]any) (to, cc []string) {
	return algorithms.Uniq(idsFromAny(doc["to"])), algorithms.Uniq(idsFromAny(doc["cc"]))
}

// recipientsOf returns every addressed id of doc, including bto and bcc.
func recipientsOf(doc map[string]any) []string {
	var all []string
	for _, field := range []string{"to", "cc", "bto", "bcc"} {
		all = append(all, idsFromAny(doc[field])...)
	}
	return algorithms.Uniq(all)
}

// visibilityOf derives the visibility of doc from its addressing. followers
// is the followers collection of the author.
func visibilityOf(doc map[string]any, followers string) models.Visibility {
	to, cc := addressing(doc)
	switch {
	case algorithms.Contains(algorithms.Map(to, isPublic), true):
		return models.Public
	case algorithms.Contains(algorithms.Map(cc, isPublic), true):
		return models.Unlisted
	case followers != "" && (algorithms.Contains(to, followers) || algorithms.Contains(cc, followers)):
		return models.FollowersOnly
	default:
		return models.Direct
	}
}

// followersOf returns the followers collection of the author of doc.
func followersOf(actor *models.Actor, doc map[string]any) string {
	if actor != nil && actor.FollowersURL() != "" {
		return actor.FollowersURL()
	}
	if author := attributedTo(doc); author != "" {
		return author + "/followers"
	}
	return ""
}

// attributedTo returns the author of doc: its attributedTo, falling back to actor.
func attributedTo(doc map[string]any) string {
	for _, v := range anyToSlice(doc["attributedTo"]) {
		switch v := v.(type) {
		case string:
			return v
		case map[string]any:
			if models.IsActorType(typeOf(v)) || typeOf(v) == "" {
				return idOf(v)
			}
		}
	}
	return idFromAny(doc["actor"])
}

// activityObjectAPID returns the id of the object an activity acts on.
func activityObjectAPID(doc map[string]any) string {
	if IsObjectType(typeOf(doc)) || models.IsActorType(typeOf(doc)) {
		return ""
	}
	return idFromAny(doc["object"])
}

func inReplyToOf(doc map[string]any) string {
	return idFromAny(doc["inReplyTo"])
}

func contextOf(doc map[string]any) string {
	if c := stringFromAny(doc["context"]); c != "" {
		return c
	}
	return stringFromAny(doc["conversation"])
}

func contentOf(doc map[string]any) string {
	return stringFromAny(doc["content"])
}

// publishedOf returns the published time of doc, or now if it has none.
func publishedOf(doc map[string]any) time.Time {
	if t := timeFromAnyOrZero(doc["published"]); !t.IsZero() {
		return t
	}
	return time.Now()
}

// quoteURL returns the object doc quotes, from any of the common extensions.
func quoteURL(doc map[string]any) string {
	for _, key := range []string{"quoteUrl", "quoteUri", "_misskey_quote", "quote"} {
		if s := idFromAny(doc[key]); s != "" {
			return s
		}
	}
	return ""
}

// mentions reports whether doc tags the local actor.
func (e *Env) mentions(doc map[string]any) bool {
	for _, tag := range anyToSlice(doc["tag"]) {
		tag := mapFromAny(tag)
		if typeOf(tag) != "Mention" {
			continue
		}
		name := stringFromAny(tag["name"])
		href := stringFromAny(tag["href"])
		if strings.EqualFold(name, e.Local.Handle()) || href == e.Local.ID() {
			return true
		}
	}
	return false
}

// pollOptions returns the poll type and the options of a Question.
func pollOptions(question map[string]any) (string, []map[string]any) {
	for _, typ := range []string{"oneOf", "anyOf"} {
		if items := anyToSlice(question[typ]); len(items) > 0 {
			return typ, algorithms.Filter(algorithms.Map(items, mapFromAny), func(m map[string]any) bool {
				return m != nil
			})
		}
	}
	return "", nil
}

// pollOptionNames returns the names of the options of a Question.
func pollOptionNames(question map[string]any) []string {
	_, items := pollOptions(question)
	return algorithms.Map(items, func(m map[string]any) string {
		return stringFromAny(m["name"])
	})
}
