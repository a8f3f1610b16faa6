package app

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/vinayprograms/tasktracker/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as its public JSON view. Foreign errors become
// InternalServerError so their text is never sent. Stacks are included
// outside production unless the error hides them. Critical errors are logged.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	te := apperrors.Ensure(err)
	if te.IsCritical() {
		a.logger.LogError(te)
	}
	writeJSON(w, te.StatusCode(), te.View(!a.production()))
}
