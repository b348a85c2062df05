package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

const maxBodySize = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps err's Kind onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := errpkg.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func statusForKind(kind errpkg.Kind) int {
	switch kind {
	case errpkg.KindInvalidInput:
		return http.StatusBadRequest
	case errpkg.KindInvalidState:
		return http.StatusConflict
	case errpkg.KindJobNotFound, errpkg.KindItemNotFound:
		return http.StatusNotFound
	case errpkg.KindRateLimited:
		return http.StatusTooManyRequests
	case errpkg.KindNetworkUnavailable, errpkg.KindDownloadFailed:
		return http.StatusBadGateway
	case errpkg.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case errpkg.KindDecodeUnsupported:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
