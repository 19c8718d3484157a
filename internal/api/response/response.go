package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteSuccess writes the boolean result of an owner-scoped mutation. A
// false success carries no further detail: a missing id and a foreign-owned
// id are deliberately indistinguishable.
func WriteSuccess(w http.ResponseWriter, ok bool) {
	WriteJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
