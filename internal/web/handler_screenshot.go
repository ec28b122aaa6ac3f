package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/docustitch/internal/metrics"
	"github.com/vbonduro/docustitch/internal/service"
)

const maxScreenshotSize = 20 << 20 // 20 MB

// multipartOverhead covers the form framing around the image part.
const multipartOverhead = 1 << 20

func (s *Server) handleUploadScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxScreenshotSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxScreenshotSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			metrics.ScreenshotsRejectedTotal.Inc()
			http.Error(w, "screenshot exceeds 20 MB", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	if header.Size > maxScreenshotSize {
		metrics.ScreenshotsRejectedTotal.Inc()
		http.Error(w, "screenshot exceeds 20 MB", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "session_id", sess.ID, "error", err)
		return
	}

	updated, err := s.service.SelectImage(r.Context(), sess.ID, header.Filename, data)
	if msg, rejected := uploadRejection(err); rejected {
		// Re-render the picker with the message so the form stays usable.
		view := newPageView(sess)
		view.UploadError = msg
		s.renderStatus(w, http.StatusBadRequest, "upload_response", view)
		return
	}
	if err != nil {
		s.serviceError(w, "select screenshot", err)
		return
	}
	s.render(w, "upload_response", newPageView(updated))
}

func uploadRejection(err error) (string, bool) {
	switch {
	case errors.Is(err, service.ErrUnsupportedImage):
		return "Please choose a PNG, JPEG, GIF or WebP image.", true
	case errors.Is(err, service.ErrImageTooLarge):
		return "That screenshot's dimensions are too large. Please crop or resize it.", true
	}
	return "", false
}

func (s *Server) handleClearScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}
	updated, err := s.service.ClearImage(r.Context(), sess.ID)
	if err != nil {
		s.serviceError(w, "clear screenshot", err)
		return
	}
	s.render(w, "upload_response", newPageView(updated))
}

func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}

	rc, mimeType, err := s.service.OpenImage(r.Context(), sess.ID)
	if err != nil {
		s.serviceError(w, "open screenshot", err)
		return
	}
	defer closeWithLog(rc, "screenshot reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("write screenshot failed", "session_id", sess.ID, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
