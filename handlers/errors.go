package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"p9e.in/gridops/models"
)

// writeError maps business error kinds to HTTP statuses. Anything without
// a kind is a server fault.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := models.KindOf(err)
	if !ok {
		log.Printf("unhandled error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case models.KindValidation:
		status = http.StatusBadRequest
	case models.KindUnknownActor, models.KindNotFound:
		status = http.StatusNotFound
	case models.KindInvalidTransition, models.KindAlreadyClaimed,
		models.KindConflict, models.KindDuplicateSubmission:
		status = http.StatusConflict
	case models.KindForbidden:
		status = http.StatusForbidden
	case models.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	message := err.Error()
	var be *models.BusinessError
	if errors.As(err, &be) {
		message = be.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind.String(),
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
