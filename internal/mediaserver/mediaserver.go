// Package mediaserver implements the range-capable HTTP file server that
// streams local media and subtitle files to cast endpoints (spec.md
// §4.5). Path containment follows the teacher's safeFilePath/filePath
// pattern in dms.go; range parsing is hand-rolled in the same spirit as
// the teacher's own handleDLNARange, since the exact clamping and
// single-range-only semantics spec.md requires don't match net/http's
// built-in Range handling.
package mediaserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anacrolix/log"
)

// Server serves files under MediaRoot at /media/<path...> and sidecar
// WebVTT subtitles under SubtitlesRoot at /subtitles/<id>.vtt.
type Server struct {
	MediaRoot     string
	SubtitlesRoot string
	logger        log.Logger
}

func New(logger log.Logger, mediaRoot, subtitlesRoot string) *Server {
	return &Server{
		MediaRoot:     mediaRoot,
		SubtitlesRoot: subtitlesRoot,
		logger:        logger.WithNames("mediaserver"),
	}
}

// resolveUnderRoot mirrors the teacher's safeFilePath: it joins the
// caller-supplied path onto root after forcing it absolute and cleaning
// it, which collapses any ".." segments before the join happens. The
// second return is false if the given path could not be percent-decoded.
func resolveUnderRoot(root, given string) (string, bool) {
	decoded, err := url.PathUnescape(given)
	if err != nil {
		return "", false
	}
	cleaned := filepath.FromSlash(path.Clean("/" + decoded))
	return filepath.Join(root, cleaned), true
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/media/", s.handleMedia)
	mux.HandleFunc("/subtitles/", s.handleSubtitle)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writeCORSHeaders(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	return mux
}

func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")
}

var mimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
}

func contentTypeFor(name string) string {
	if mt, ok := mimeByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

func dlnaProfileFor(mimeType string) string {
	switch mimeType {
	case "video/mp4":
		return "AVC_MP4_HP_HD_AAC"
	case "video/x-matroska":
		return "MATROSKA"
	default:
		return "AVC_MP4_HP_HD_AAC"
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}
	given := strings.TrimPrefix(r.URL.Path, "/media/")
	full, ok := resolveUnderRoot(s.MediaRoot, given)
	if !ok {
		http.Error(w, "bad path encoding", http.StatusBadRequest)
		return
	}
	if !withinRoot(s.MediaRoot, full) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.serveFile(w, r, full, true)
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}
	given := strings.TrimPrefix(r.URL.Path, "/subtitles/")
	if !strings.HasSuffix(given, ".vtt") {
		http.NotFound(w, r)
		return
	}
	full, ok := resolveUnderRoot(s.SubtitlesRoot, given)
	if !ok {
		http.Error(w, "bad path encoding", http.StatusBadRequest)
		return
	}
	if !withinRoot(s.SubtitlesRoot, full) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	writeCORSHeaders(w)
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.Copy(w, f)
}

func withinRoot(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, full string, dlnaHeaders bool) {
	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	size := info.Size()
	mimeType := contentTypeFor(full)

	h := w.Header()
	writeCORSHeaders(w)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", mimeType)
	h.Set("Cache-Control", "no-cache")
	if dlnaHeaders {
		h.Set("transferMode.dlna.org", "Streaming")
		h.Set("contentFeatures.dlna.org", fmt.Sprintf("DLNA.ORG_PN=%s;DLNA.ORG_FLAGS=01700000000000000000000000000000", dlnaProfileFor(mimeType)))
	}

	rangeHeader := r.Header.Get("Range")
	start, end, kind := parseRange(rangeHeader, size)
	if kind == rangeAbsent || kind == rangeIgnored {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, f)
		}
		return
	}
	if kind == rangeUnsatisfiable {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, f, end-start+1)
}

type rangeKind int

const (
	rangeAbsent rangeKind = iota
	rangeIgnored
	rangeUnsatisfiable
	rangeSatisfiable
)

// parseRange implements the single-range subset of spec.md §4.5: only
// "bytes=" ranges are honored; a header naming multiple ranges, or one
// that doesn't parse, is treated as if no Range header had been sent at
// all (rangeIgnored). A well-formed single range that falls outside the
// file is rangeUnsatisfiable (416); anything else is clamped and
// returned as rangeSatisfiable (206).
func parseRange(header string, size int64) (start, end int64, kind rangeKind) {
	if header == "" {
		return 0, 0, rangeAbsent
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, rangeIgnored
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, rangeIgnored
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, rangeIgnored
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, rangeIgnored
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case parts[0] != "" && parts[1] == "":
		s, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, rangeIgnored
		}
		start = s
		end = size - 1
	case parts[0] != "" && parts[1] != "":
		s, err1 := strconv.ParseInt(parts[0], 10, 64)
		e, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, rangeIgnored
		}
		start = s
		end = e
		if end > size-1 {
			end = size - 1
		}
	default:
		return 0, 0, rangeIgnored
	}

	if start > end || start >= size {
		return 0, 0, rangeUnsatisfiable
	}
	return start, end, rangeSatisfiable
}
