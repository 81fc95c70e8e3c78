package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-store-orders/internal/orders"
)

const (
	msgProductNotFound   = "Producto no encontrado"
	msgInsufficientStock = "Stock insuficiente"
	msgOrderNotFound     = "Orden no encontrada"
	msgInvalidJSON       = "JSON inválido"
	msgInternal          = "Error interno del servidor"
	msgKeyReused         = "Idempotency-Key ya fue usada con otra orden"
	msgKeyInProgress     = "Ya hay una orden en proceso con esta Idempotency-Key"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorBody{Detail: detail})
}

// writeError maps domain errors to status codes. Unclassified errors are
// logged and surface as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var verr *orders.ValidationError
	switch {
	case errors.As(err, &verr):
		writeDetail(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, orders.ErrProductNotFound):
		writeDetail(w, http.StatusNotFound, msgProductNotFound)
	case errors.Is(err, orders.ErrInsufficientStock):
		writeDetail(w, http.StatusBadRequest, msgInsufficientStock)
	case errors.Is(err, orders.ErrOrderNotFound):
		writeDetail(w, http.StatusNotFound, msgOrderNotFound)
	case errors.Is(err, orders.ErrIdempotencyKeyReused):
		writeDetail(w, http.StatusUnprocessableEntity, msgKeyReused)
	case errors.Is(err, orders.ErrIdempotencyInProgress):
		writeDetail(w, http.StatusConflict, msgKeyInProgress)
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeDetail(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeJSON reads the body into v. Malformed JSON is a 400; a well formed
// body with a wrongly typed field is reported like any other validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s: must be %s", typeErr.Field, typeErr.Type))
		return false
	}
	writeDetail(w, http.StatusBadRequest, msgInvalidJSON)
	return false
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &orders.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}
