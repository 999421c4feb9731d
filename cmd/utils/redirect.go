package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// SafeLocalPath returns target when it is a path on this site, otherwise "".
func SafeLocalPath(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return ""
	}
	return target
}

// RedirectBack sends the client to the page it came from when the referrer
// belongs to this host, otherwise to fallback.
func RedirectBack(w http.ResponseWriter, r *http.Request, fallback string) {
	target := fallback
	if ref := r.Referer(); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Host == r.Host && u.Path != "" {
			target = u.RequestURI()
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}
