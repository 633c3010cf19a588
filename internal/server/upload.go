package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/edmgate/internal/edm"
)

// headerPeek is how much of an upload is inspected before it is accepted.
// The first header line of a download is far shorter.
const headerPeek = 256

var errNotDownload = errors.New("not an EDM download")

// handleUpload stores multipart files as upload artifacts. Every part must
// start with a well formed `$X` header line; nothing is registered when one
// of them does not.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var parts []*multipart.FileHeader
	for _, files := range r.MultipartForm.File {
		parts = append(parts, files...)
	}
	if len(parts) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}

	saved := make([]string, 0, len(parts))
	discard := func() {
		for _, p := range saved {
			os.Remove(p)
		}
	}
	for _, fh := range parts {
		path, err := s.storeDownload(fh)
		if err != nil {
			discard()
			status := http.StatusBadRequest
			if !errors.Is(err, errNotDownload) {
				status = http.StatusInternalServerError
			}
			http.Error(w, fmt.Sprintf("upload %s: %v", fh.Filename, err), status)
			return
		}
		saved = append(saved, path)
	}

	refs := make([]ArtifactRef, 0, len(parts))
	for i, fh := range parts {
		art, err := s.addArtifact(saved[i], filepath.Base(fh.Filename), "application/octet-stream", "upload")
		if err != nil {
			http.Error(w, fmt.Sprintf("register %s: %v", fh.Filename, err), http.StatusInternalServerError)
			return
		}
		s.logger.Infof("upload %s stored as %s (%d bytes, sha256 %s)", art.Name, art.ID, art.Size, art.SHA256)
		refs = append(refs, toRef(art))
	}
	writeJSON(w, http.StatusOK, struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs})
}

// storeDownload checks the first header line of fh and copies it into the
// uploads directory.
func (s *Server) storeDownload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	br := bufio.NewReaderSize(src, headerPeek)
	head, err := br.Peek(headerPeek)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	line, _, err := edm.ScanHeaderLine(head, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNotDownload, err)
	}
	if !line.ChecksumOK {
		s.logger.Warnf("upload %s: first %s line has a bad checksum", fh.Filename, line.Type)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = ".jpi"
	}
	dest, err := os.CreateTemp(s.uploadsDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dest, br); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return "", err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return "", err
	}
	return dest.Name(), nil
}
