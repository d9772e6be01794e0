package gateway

import (
	"encoding/json"
	"net/http"
	"os"
)

// osExit is a var so tests can swap it out rather than killing the test
// binary when the idle timer fires.
var osExit = os.Exit

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
