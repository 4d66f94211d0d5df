package wellknown

import (
	"errors"
	"net/http"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/internal/to"
	"github.com/davecheney/solo/models"
	"github.com/go-chi/chi/v5"
)

const (
	softwareName    = "solo"
	softwareVersion = "0.1.0"
	repository      = "https://github.com/davecheney/solo"
)

func NodeInfoIndex(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("cache-control", "max-age=259200, public")
	return to.JSON(w, map[string]any{
		"links": []any{
			map[string]any{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": env.Local.BaseURL + "/nodeinfo/2.0",
			},
			map[string]any{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": env.Local.BaseURL + "/nodeinfo/2.1",
			},
		},
	})
}

func NodeInfoShow(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	software := map[string]any{
		"name":    softwareName,
		"version": softwareVersion,
	}
	version := chi.URLParam(r, "version")
	switch version {
	case "2.0":
		// https://github.com/jhass/nodeinfo/blob/main/schemas/2.0/schema.json
	case "2.1":
		software["repository"] = repository
	default:
		return httpx.Error(http.StatusNotFound, errors.New("unsupported version: "+version))
	}
	stats, err := models.CollectStats(env.DB)
	if err != nil {
		return err
	}
	w.Header().Set("cache-control", "max-age=1800, public")
	return to.JSON(w, map[string]any{
		"version":   version,
		"software":  software,
		"protocols": []any{"activitypub"},
		"services": map[string]any{
			"inbound":  []any{},
			"outbound": []any{},
		},
		"usage": map[string]any{
			"users": map[string]any{
				"total":          1,
				"activeMonth":    1,
				"activeHalfyear": 1,
			},
			"localPosts": stats.LocalPosts,
		},
		"openRegistrations": false,
		"metadata": map[string]any{
			"nodeName": env.Config.Name,
		},
	})
}
