package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/source"
)

// CanvasRequest is the wire form of a canvas render. Every field except Src is
// optional; malformed values select defaults instead of failing.
type CanvasRequest struct {
	Src   string   `json:"src"`
	Ratio Ratio    `json:"ratio,omitempty"`
	Matte *float64 `json:"matte,omitempty"`
	BG    string   `json:"bg,omitempty"`
	Blur  *float64 `json:"blur,omitempty"`
	Fmt   string   `json:"fmt,omitempty"`
	Max   *int     `json:"max,omitempty"`
}

// Ratio accepts "3:4", "21x30" or a bare JSON number such as 0.75.
type Ratio string

func (r *Ratio) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ratio(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("ratio must be a string or a number")
	}
	// A bare number is width over height.
	*r = Ratio(strconv.FormatFloat(n, 'f', -1, 64) + ":1")
	return nil
}

// CanvasRequestFromQuery reads the GET form. Unparseable numbers are dropped so
// they fall back to defaults.
func CanvasRequestFromQuery(q url.Values) CanvasRequest {
	req := CanvasRequest{
		Src:   q.Get("src"),
		Ratio: Ratio(q.Get("ratio")),
		BG:    q.Get("bg"),
		Fmt:   q.Get("fmt"),
	}
	req.Matte = parseFloat(q.Get("matte"))
	req.Blur = parseFloat(q.Get("blur"))
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("max"))); err == nil {
		req.Max = &v
	}
	return req
}

func (r CanvasRequest) Validate() error {
	if strings.TrimSpace(r.Src) == "" {
		return errors.New("src is required")
	}
	return nil
}

func (r CanvasRequest) SourceRef() (source.Ref, error) {
	return source.ParseRef(r.Src)
}

func (r CanvasRequest) Params() compositor.Params {
	return compositor.Params{
		Ratio:      string(r.Ratio),
		Matte:      r.Matte,
		Background: r.BG,
		Blur:       r.Blur,
		Format:     r.Fmt,
		Max:        r.Max,
	}
}

func parseFloat(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
