package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jackzampolin/epubify/internal/convert"
	"github.com/jackzampolin/epubify/internal/task"
)

// writeTaskError maps task lookup errors to status codes. Only the short
// sentinel message reaches the client.
func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, task.ErrNotFound.Error())
	case errors.Is(err, convert.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
