package api

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/zsiec/roqd/internal/media"
)

const maxScale = 8

// scaleFrame converts f to RGBA and, for scale > 1, enlarges it with the
// named interpolator ("nearest" or "bilinear").
func scaleFrame(f *media.VideoFrame, scale int, filter string) (image.Image, bool) {
	src := f.RGBA()
	if scale <= 1 {
		return src, true
	}

	var interp draw.Interpolator
	switch filter {
	case "", "nearest":
		interp = draw.NearestNeighbor
	case "bilinear":
		interp = draw.BiLinear
	default:
		return nil, false
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	interp.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, true
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	st, ok := s.config.Streams.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	scale := 1
	if v := r.URL.Query().Get("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxScale {
			writeError(w, http.StatusBadRequest, "scale must be an integer from 1 to 8")
			return
		}
		scale = n
	}

	frame := st.Relay.LatestVideo()
	if frame == nil {
		writeError(w, http.StatusNotFound, "no picture decoded yet")
		return
	}

	img, ok := scaleFrame(frame, scale, r.URL.Query().Get("filter"))
	if !ok {
		writeError(w, http.StatusBadRequest, "filter must be nearest or bilinear")
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Index", strconv.Itoa(frame.Index))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
