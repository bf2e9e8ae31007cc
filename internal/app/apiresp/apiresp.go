package apiresp

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// InternalErrorMessage is the only text a client sees for a 500.
const InternalErrorMessage = "Something went wrong. Please try again later."

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
	Meta  Meta        `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{OK: false, Error: msg, Code: codeFromStatus(status)})
}

// WriteInternal logs err with the request id and answers with a generic 500.
func WriteInternal(w http.ResponseWriter, r *http.Request, op string, err error) {
	log.Printf("request_id=%s op=%s error=%v", middleware.GetReqID(r.Context()), op, err)
	WriteError(w, r, http.StatusInternalServerError, InternalErrorMessage)
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
