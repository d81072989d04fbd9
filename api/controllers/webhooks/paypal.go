package webhooks

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ringwise/ringwise-backend/api/responses"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// PayPalReturn forwards the approved order to the app. Capture happens
// later through the authenticated capture RPC.
func PayPalReturn(deepLink string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		token := strings.TrimSpace(query.Get("token"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token is required"))
			return
		}
		params := url.Values{}
		params.Set("token", token)
		if payer := strings.TrimSpace(query.Get("PayerID")); payer != "" {
			params.Set("PayerID", payer)
		}
		target, err := withQuery(deepLink, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid return deep link"))
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func PayPalCancel(deepLink string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := url.Values{}
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			params.Set("token", token)
		}
		target, err := withQuery(deepLink, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid cancel deep link"))
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("deep link %q has no scheme", base)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
