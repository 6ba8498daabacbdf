package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/views"
	"github.com/sells-group/assay-cli/internal/workflow"
)

// multipartMemory is the in-memory part of a parsed multipart form; larger
// uploads spill to temp files.
const multipartMemory = 32 << 20

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.engine.Sessions().Len(),
	})
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	id := s.engine.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.engine.ListSessions()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.engine.ClearSession(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ack": true, "session_id": id})
}

// uploadFile accepts a multipart form with a "file" part, or a raw body
// named by the filename query parameter.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Upload(r.Context(), chi.URLParam(r, "sessionID"), filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		return r.URL.Query().Get("filename"), data, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, err
		}
		return "", nil, model.InvalidRequestError("malformed multipart form: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, model.InvalidRequestError("multipart form has no \"file\" part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	filename := filepath.Base(header.Filename)
	if override := r.URL.Query().Get("filename"); override != "" {
		filename = override
	}
	return filename, data, nil
}

func (s *Server) fileMatches(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.MatchFile(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Merge(r.Context(), chi.URLParam(r, "sessionID"), force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = workflow.ExportCSV
	}

	var buf bytes.Buffer
	if err := s.engine.Export(r.Context(), id, format, &buf); err != nil {
		writeError(w, r, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == workflow.ExportXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "merged-" + id + "." + format,
	}))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func (s *Server) visualize(w http.ResponseWriter, r *http.Request) {
	var req views.PlotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	spec, err := s.engine.Visualize(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Analyze(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type queryRequest struct {
	Predicate string `json:"predicate"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Query(r.Context(), chi.URLParam(r, "sessionID"), req.Predicate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return model.InvalidRequestError("invalid request body: %v", err)
	}
	return nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.InvalidRequestError("%s must be true or false, got %q", name, raw)
	}
	return v, nil
}
