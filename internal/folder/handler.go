package folder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"quizlms/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type folderService interface {
	CreateFolder(ctx context.Context, in CreateFolderInput) (*Folder, error)
	GetFolderContents(ctx context.Context, folderID int64, publicAccess bool) (*Contents, error)
	ListRootFolders(ctx context.Context) ([]RootFolder, error)
	DeleteFolder(ctx context.Context, folderID int64, mode DeleteMode) (*DeleteResult, error)
}

type Handler struct {
	svc folderService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createFolderRequest struct {
	Name     string    `json:"name"`
	ParentID ParentRef `json:"parent_id"`
}

// ParentRef is a folder id that may be sent as a number, a numeric string,
// null, an empty string or the string "null". The last three mean root.
type ParentRef struct {
	ID *int64
}

func (p *ParentRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		p.ID = nil
		return nil
	}

	raw := string(b)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			p.ID = nil
			return nil
		}
		raw = s
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errors.New("parent_id must be a folder id or null")
	}
	p.ID = &id
	return nil
}

func NewHandler(svc folderService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	f, err := h.svc.CreateFolder(r.Context(), CreateFolderInput{Name: req.Name, ParentID: req.ParentID.ID})
	if err != nil {
		h.writeError(w, r, "create folder", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: f})
}

func (h *Handler) ListRoots(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListRootFolders(r.Context())
	if err != nil {
		h.writeError(w, r, "list root folders", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// Contents serves the admin view: every test in the folder regardless of status.
func (h *Handler) Contents(w http.ResponseWriter, r *http.Request) {
	h.contents(w, r, false)
}

// PublicContents serves the catalog view: free published tests only.
func (h *Handler) PublicContents(w http.ResponseWriter, r *http.Request) {
	h.contents(w, r, true)
}

func (h *Handler) contents(w http.ResponseWriter, r *http.Request, publicAccess bool) {
	folderID, err := strconv.ParseInt(chi.URLParam(r, "folder_id"), 10, 64)
	if err != nil || folderID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid folder id"})
		return
	}

	out, err := h.svc.GetFolderContents(r.Context(), folderID, publicAccess)
	if err != nil {
		h.writeError(w, r, "folder contents", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	folderID, err := strconv.ParseInt(chi.URLParam(r, "folder_id"), 10, 64)
	if err != nil || folderID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid folder id"})
		return
	}
	mode, err := ParseDeleteMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, "delete folder", err)
		return
	}

	res, err := h.svc.DeleteFolder(r.Context(), folderID, mode)
	if err != nil {
		h.writeError(w, r, "delete folder", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrFolderNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Folder not found."})
	case errors.Is(err, ErrParentNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Parent folder not found."})
	case errors.Is(err, ErrFolderNotEmpty):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "Folder has subfolders or tests. Use mode=cascade to delete them."})
	case errors.Is(err, ErrFolderHasAttempts):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "Folder contains tests that have been attempted and cannot be deleted."})
	default:
		apiresp.WriteInternal(w, r, op, err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
