package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/backup"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/sheet"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.Preview.Preview(r.Context(), data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accepted, err := acceptedFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.applyMu.TryLock() {
		writeError(w, http.StatusConflict, errors.New("another apply run is in progress"))
		return
	}
	defer s.applyMu.Unlock()

	res, err := s.Apply.Apply(r.Context(), data, accepted, func(processed, total, failed int) {
		utils.Log.Infof("Apply progress: %d/%d (%d failed)", processed, total, failed)
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accepted, err := acceptedFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.Preview.Preview(r.Context(), data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	listings, err := backup.Snapshot(r.Context(), s.Catalog, resp, accepted, backup.WithLogger(utils.Log))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	if err := sheet.WriteCSV(&buf, listings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.FileName(time.Now())))
	w.Write(buf.Bytes())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		state = "active"
	}
	format := q.Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown format %q", format))
		return
	}

	listings, err := backup.FetchShop(r.Context(), s.Catalog, state, 0)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		err = sheet.WriteXLSX(&buf, listings)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	} else {
		err = sheet.WriteCSV(&buf, listings)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "listings_"+state+"."+format))
	w.Write(buf.Bytes())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	all, err := s.Store.ListProgress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, http.StatusNotFound, errors.New("apply history is not recorded by this storage backend"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.Audit.ListRecentOutcomes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// readUpload reads the multipart "file" field, or the raw body when the
// request is not multipart.
func (s *Server) readUpload(r *http.Request) ([]byte, error) {
	limit := s.MaxUpload
	if limit <= 0 {
		limit = DefaultMaxUpload
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, limit))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, errors.New("empty upload")
		}
		return data, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func acceptedFrom(r *http.Request) (changeset.Accepted, error) {
	raw := r.FormValue("accepted")
	if raw == "" {
		return changeset.Accepted{}, errors.New("accepted is required (\"all\" or a list of change ids)")
	}
	return changeset.ParseAccepted(raw), nil
}

// statusFor maps malformed input and missing prerequisites to 400 and remote
// failures to 502.
func statusFor(err error) int {
	var parseErr *sheet.ParseError
	var apiErr *etsy.APIError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, apply.ErrNoCreateDefaults):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Log.Debugf("Writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
