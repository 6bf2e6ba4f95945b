package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

const maxFormMemory = 8 << 20

var errMissingField = errors.New("missing field")

// DecodeJobSpec reads a job from a JSON body or from form fields. Form
// submissions carry learn_parameters and predict_parameters as JSON strings.
func DecodeJobSpec(r *http.Request) (*core.JobSpec, error) {
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("content type: %w", err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(r)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return decodeForm(r.PostForm)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return decodeForm(r.PostForm)
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func decodeJSON(r *http.Request) (*core.JobSpec, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var spec core.JobSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

type formReader struct {
	values url.Values
	err    error
}

func (f *formReader) required(key string) string {
	v := strings.TrimSpace(f.values.Get(key))
	if v == "" && f.err == nil {
		f.err = fmt.Errorf("%w: %s", errMissingField, key)
	}
	return v
}

func (f *formReader) fail(key string, err error) {
	if f.err == nil {
		f.err = fmt.Errorf("field %s: %w", key, err)
	}
}

func (f *formReader) floatField(key string) float64 {
	s := f.required(key)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.fail(key, err)
	}
	return v
}

func (f *formReader) intField(key string) int64 {
	s := f.required(key)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.fail(key, err)
	}
	return v
}

func (f *formReader) boolField(key string) bool {
	s := f.required(key)
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		f.fail(key, err)
	}
	return v
}

func (f *formReader) jsonField(key string, dst any) {
	s := f.required(key)
	if s == "" {
		return
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		f.fail(key, err)
	}
}

func (f *formReader) list(key string) []string {
	var out []string
	for _, v := range f.values[key] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func decodeForm(values url.Values) (*core.JobSpec, error) {
	f := &formReader{values: values}
	spec := &core.JobSpec{
		Name:               f.required("name"),
		DatasetName:        f.required("dataset_name"),
		TrainingRate:       f.floatField("training_rate"),
		FusionRate:         f.floatField("fusion_rate"),
		SampleRate:         f.floatField("sample_rate"),
		ClassAttribute:     f.required("class_attribute"),
		ClassAttributeType: core.ValueType(f.required("class_attribute_type")),
		TrueClassValue:     f.required("true_class_value"),
		IncludeAttributes:  f.list("include_attributes"),
		ExcludeAttributes:  f.list("exclude_attributes"),
		AttributesRate:     f.floatField("attributes_rate"),
		RandomSeed:         f.intField("random_seed"),
		IncludeHeader:      f.boolField("include_header"),
		Duration:           int(f.intField("duration")),
		Threshold:          f.floatField("threshold"),
		LearnersNumber:     int(f.intField("learners_number")),
	}
	f.jsonField("learn_parameters", &spec.LearnParameters)
	f.jsonField("predict_parameters", &spec.PredictParameters)
	if f.err != nil {
		return nil, f.err
	}
	return spec, nil
}

func toResponse(jobName string, queues map[core.Role]string, published map[core.Role]int) SubmitJobResponse {
	resp := SubmitJobResponse{
		JobName:   jobName,
		Queues:    make(map[string]string, len(queues)),
		Published: make(map[string]int, len(published)),
		Message:   "Job created correctly.",
	}
	for role, name := range queues {
		resp.Queues[string(role)] = name
	}
	for _, role := range core.Roles() {
		resp.Published[string(role)] = published[role]
	}
	return resp
}
