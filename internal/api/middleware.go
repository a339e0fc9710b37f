package api

import (
	"log/slog"
	"net/http"
)

// twilioSignatureHeader carries the HMAC Twilio computes over the webhook URL and form.
const twilioSignatureHeader = "X-Twilio-Signature"

// verifyTwilioSignature answers 403 to webhooks that fail signature validation.
// It passes everything through when validation is not configured.
func (s *Server) verifyTwilioSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.verifyTwilioSignature: failed to parse form", "error", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := s.publicBaseURL + r.URL.RequestURI()
		if !s.validator.Validate(url, params, r.Header.Get(twilioSignatureHeader)) {
			slog.Warn("Server.verifyTwilioSignature: signature mismatch", "path", r.URL.Path, "url", url)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
