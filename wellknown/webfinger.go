// Package wellknown serves the discovery documents under /.well-known and
// the nodeinfo documents they point to.
package wellknown

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/internal/to"
	"github.com/davecheney/solo/internal/webfinger"
)

// Webfinger describes the local actor. The resource may be given as an
// acct: handle or as the actor's id.
func Webfinger(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	local := env.Local
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("missing resource"))
	}
	if resource != local.ID() {
		acct, err := webfinger.Parse(resource)
		if err != nil {
			return httpx.Error(http.StatusBadRequest, err)
		}
		if acct.User != local.Username || (acct.Host != "" && !strings.EqualFold(acct.Host, local.Host)) {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("unknown resource %q", resource))
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return to.JRD(w, webfinger.Describe(local.Username, local.Host, local.ID(), local.ID()))
}
