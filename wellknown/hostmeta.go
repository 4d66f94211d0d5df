package wellknown

import (
	"io"
	"net/http"

	"github.com/davecheney/solo/activitypub"
)

// HostMeta points legacy clients at the webfinger endpoint.
func HostMeta(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/xrd+xml")
	_, err := io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
<Link rel="lrdd" template="`+env.Local.BaseURL+`/.well-known/webfinger?resource={uri}"/>
</XRD>
`)
	return err
}
