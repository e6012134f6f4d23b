package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seantiz/geoservice/internal/transform"
)

const (
	maxUploadSize   = 512 << 20 // 512 MB
	maxMemoryUpload = 32 << 20

	responsePrompt   = "prompt"
	responseDeferred = "deferred"
)

var errBadRequest = errors.New("bad request")

// input is one dataset named by a form field: either an uploaded file or a
// path under the input directory.
type input struct {
	field  string
	upload *multipart.FileHeader
	path   string
}

// name is the file name the input is known by before staging.
func (in input) name() string {
	if in.upload != nil {
		return in.upload.Filename
	}
	return in.path
}

// admission is a parsed and validated admission request.
type admission struct {
	op       transform.Operation
	inputs   []input
	response string
	download bool
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxMemoryUpload)
	}
	return r.ParseForm()
}

// parseAdmission reads the form of an admission request for family/kind. The
// returned operation carries provisional source paths; staged paths replace
// them once the session exists.
func (s *Server) parseAdmission(r *http.Request, family, kind string) (admission, error) {
	var a admission

	a.response = r.FormValue("response")
	switch a.response {
	case "":
		a.response = responseDeferred
	case responsePrompt, responseDeferred:
	default:
		return a, fmt.Errorf("%w: response must be prompt or deferred", errBadRequest)
	}

	download, err := boolField(r, "download", true)
	if err != nil {
		return a, err
	}
	a.download = download

	resource, err := s.inputField(r, "resource")
	if err != nil {
		return a, err
	}
	a.inputs = []input{resource}
	src := sourceFrom(r, "", resource)

	switch family {
	case transform.FamilyConstructive:
		tolerance, err := floatField(r, "tolerance")
		if err != nil {
			return a, err
		}
		preserve, err := boolField(r, "preserve_topology", true)
		if err != nil {
			return a, err
		}
		a.op = transform.Constructive{
			Kind:             transform.ConstructiveKind(kind),
			Source:           src,
			Tolerance:        tolerance,
			PreserveTopology: preserve,
		}

	case transform.FamilyFilter:
		radius, err := floatField(r, "radius")
		if err != nil {
			return a, err
		}
		a.op = transform.Filter{
			Kind:   transform.FilterKind(kind),
			Source: src,
			WKT:    r.FormValue("wkt"),
			Radius: radius,
		}

	case transform.FamilyJoin:
		other, err := s.inputField(r, "other")
		if err != nil {
			return a, err
		}
		a.inputs = append(a.inputs, other)
		distance, err := floatField(r, "distance")
		if err != nil {
			return a, err
		}
		how := r.FormValue("how")
		if how == "" {
			how = transform.JoinInner
		}
		a.op = transform.Join{
			Kind:     transform.JoinKind(kind),
			Left:     src,
			Right:    sourceFrom(r, "other_", other),
			How:      how,
			LPrefix:  r.FormValue("lprefix"),
			RPrefix:  r.FormValue("rprefix"),
			LSuffix:  r.FormValue("lsuffix"),
			RSuffix:  r.FormValue("rsuffix"),
			Distance: distance,
		}

	default:
		return a, fmt.Errorf("%w: unknown operation family %q", errBadRequest, family)
	}

	if err := a.op.Validate(); err != nil {
		return a, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return a, nil
}

// inputField resolves a dataset field. Paths must stay inside the input
// directory and name an existing file.
func (s *Server) inputField(r *http.Request, field string) (input, error) {
	if r.MultipartForm != nil {
		if files := r.MultipartForm.File[field]; len(files) > 0 {
			switch filepath.Base(files[0].Filename) {
			case "", ".", "..", string(filepath.Separator):
				return input{}, fmt.Errorf("%w: %s has an invalid file name", errBadRequest, field)
			}
			return input{field: field, upload: files[0]}, nil
		}
	}

	value := r.FormValue(field)
	if value == "" {
		return input{}, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	if !filepath.IsLocal(value) {
		return input{}, fmt.Errorf("%w: %s must be a path inside the input directory", errBadRequest, field)
	}

	path := filepath.Join(s.inputDir, value)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return input{}, fmt.Errorf("%w: %s %q not found", errBadRequest, field, value)
	}
	return input{field: field, path: path}, nil
}

func sourceFrom(r *http.Request, prefix string, in input) transform.Source {
	return transform.Source{
		Path: in.name(),
		CRS:  r.FormValue(prefix + "crs"),
		ReadOptions: transform.ReadOptions{
			Encoding:  r.FormValue(prefix + "encoding"),
			Delimiter: r.FormValue(prefix + "delimiter"),
			Geom:      r.FormValue(prefix + "geom"),
			Lat:       r.FormValue(prefix + "lat"),
			Lon:       r.FormValue(prefix + "lon"),
		},
	}
}

// withSources returns op with its source paths replaced by paths, in the
// order the inputs were parsed.
func withSources(op transform.Operation, paths []string) transform.Operation {
	switch op := op.(type) {
	case transform.Constructive:
		op.Source.Path = paths[0]
		return op
	case transform.Filter:
		op.Source.Path = paths[0]
		return op
	case transform.Join:
		op.Left.Path = paths[0]
		op.Right.Path = paths[1]
		return op
	default:
		return op
	}
}

func floatField(r *http.Request, name string) (float64, error) {
	v := r.FormValue(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return f, nil
}

func boolField(r *http.Request, name string, def bool) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, name)
	}
	return b, nil
}
