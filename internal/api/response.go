package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// encodeFailureBody is sent when a response envelope cannot be encoded, e.g. because its
// Result holds a value JSON cannot represent.
var encodeFailureBody = mustEncode(models.Error("Failed to encode response"))

func mustEncode(resp models.APIResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		panic("api: static error envelope does not encode: " + err.Error())
	}
	return data
}

// writeJSONResponse writes resp with statusCode. An envelope that fails to encode is
// replaced by a 500 error envelope before any header is written.
func writeJSONResponse(w http.ResponseWriter, statusCode int, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.writeJSONResponse: envelope encoding failed", "status", resp.Status, "intendedCode", statusCode, "error", err)
		body, statusCode = encodeFailureBody, http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Warn("Server.writeJSONResponse: client went away", "code", statusCode, "error", err)
	}
}

// writeTwiML writes a TwiML document with status 200.
func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("Server.writeTwiML: failed to write TwiML response", "error", err)
	}
}
