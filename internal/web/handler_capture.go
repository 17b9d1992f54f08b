package web

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/form"
	"github.com/vbonduro/treetag/internal/session"
)

const maxPhotoSize = 50 * 1024 * 1024 // 50 MB

// allowedImageTypes is the set of MIME types accepted for captured photos.
// http.DetectContentType has no WebP signature, so isWebP checks for it.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// handleCapture accepts the result of the camera flow: an "image" file plus
// "latitude" and "longitude", and optionally "width" and "height". Missing
// dimensions are read from the image header.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if sess.PickerOpen() {
		s.writeError(w, r, session.ErrPickerOpen, "")
		return
	}

	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		badRequest(w, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		badRequest(w, "image file required")
		return
	}
	defer closeWithLog(file, "capture file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err, "failed to read file")
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		badRequest(w, "unsupported image format")
		return
	}

	location, err := parseLocation(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	width, height, err := photoSize(r, imageData)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	key, err := s.trees.StagePhoto(r.Context(), imageData, mimeType)
	if err != nil {
		s.writeError(w, r, err, "failed to store photo")
		return
	}

	capture := form.Capture{
		Picture:  domain.Photo{Width: width, Height: height, URI: key},
		Location: location,
	}
	if err := sess.ApplyCapture(capture); err != nil {
		s.writeError(w, r, err, "failed to apply capture")
		return
	}
	s.logger.Info("photo captured", "session_id", sess.ID, "storage_key", key, "width", width, "height", height)
	writeJSON(w, http.StatusOK, sess.View())
}

func parseLocation(r *http.Request) (domain.Coordinates, error) {
	lat, err := strconv.ParseFloat(r.FormValue("latitude"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.Coordinates{}, fmt.Errorf("valid latitude required")
	}
	long, err := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if err != nil || long < -180 || long > 180 {
		return domain.Coordinates{}, fmt.Errorf("valid longitude required")
	}
	return domain.Coordinates{Latitude: lat, Longitude: long}, nil
}

// photoSize prefers the dimensions reported by the client, which know about
// orientation, and falls back to decoding the image header.
func photoSize(r *http.Request, data []byte) (int, int, error) {
	ws, hs := r.FormValue("width"), r.FormValue("height")
	if ws != "" || hs != "" {
		width, werr := strconv.Atoi(ws)
		height, herr := strconv.Atoi(hs)
		if werr != nil || herr != nil || width <= 0 || height <= 0 {
			return 0, 0, fmt.Errorf("width and height must be positive integers")
		}
		return width, height, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("width and height required")
	}
	return cfg.Width, cfg.Height, nil
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
