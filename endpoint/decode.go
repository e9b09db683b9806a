package endpoint

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds every decoded value unless the field carries its
// own `maxLength` tag.
var defaultFieldLimit = 16 * 1024

// maxBodyBytes bounds request bodies read for `body` fields.
var maxBodyBytes int64 = 1 << 20

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Struct tags select the source of each field:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  r.URL.Query()
//   - `form:"name"`   url-encoded form values (r.Form)
//   - `header:"name"` r.Header
//   - `body:",json"`  the whole request body, JSON-decoded when the field is not
//     a string or []byte (JSON is the default for those types)
//
// A tag value of "-" ignores the field. An empty name defaults to the
// lower-cased field name. If several tags are present, the first source that
// has a value wins, in the order path, query, form, body, header. Untagged
// scalar fields are read from path then query. Untagged struct fields are
// decoded recursively.
//
// `maxLength:"n"` caps the byte length of a value (default 16KB, "0" for no
// limit). Oversized values are a 400.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	src := &requestSource{r: r, query: url.Values{}, form: url.Values{}}
	if r.URL != nil {
		src.query = r.URL.Query()
	}
	if !bodyIsJSON(r) {
		if err := r.ParseForm(); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse form: %w", err))
		}
		src.form = r.Form
	}
	return src.decodeStruct(root)
}

// requestSource holds the request values shared by all fields of one decode.
type requestSource struct {
	r     *http.Request
	query url.Values
	form  url.Values
	body  []byte
	read  bool
}

var sourceOrder = []string{"path", "query", "form", "body", "header"}

type fieldTag struct {
	source    string
	name      string
	json      bool
	maxLength int
}

func (s *requestSource) decodeStruct(sv reflect.Value) error {
	t := sv.Type()
	bodyField := ""
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return err
		}
		tags, ignored, err := parseFieldTags(sf, limit)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if ignored {
			continue
		}

		if len(tags) == 0 {
			if isStructLike(fv) {
				if err := s.decodeStruct(derefStruct(fv)); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags = []fieldTag{
				{source: "path", name: name, maxLength: limit},
				{source: "query", name: name, maxLength: limit},
			}
		}

		for _, tag := range tags {
			if tag.source != "body" {
				continue
			}
			if bodyField != "" {
				return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", bodyField, sf.Name))
			}
			bodyField = sf.Name
		}

		for _, tag := range tags {
			values, err := s.fetch(tag)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				continue
			}
			for _, val := range values {
				if tag.maxLength > 0 && len(val) > tag.maxLength {
					return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.source, tag.name, sf.Name, tag.maxLength))
				}
			}
			if err := setField(fv, values, tag.json); err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.source, tag.name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

func (s *requestSource) fetch(tag fieldTag) ([][]byte, error) {
	switch tag.source {
	case "path":
		if v := s.r.PathValue(tag.name); v != "" {
			return [][]byte{[]byte(v)}, nil
		}
		return nil, nil
	case "query":
		return toBytes(s.query[tag.name]), nil
	case "form":
		return toBytes(s.form[tag.name]), nil
	case "header":
		return toBytes(s.r.Header[http.CanonicalHeaderKey(tag.name)]), nil
	case "body":
		return s.fetchBody(tag.json)
	}
	return nil, nil
}

func (s *requestSource) fetchBody(wantJSON bool) ([][]byte, error) {
	if s.r.Body == nil || s.r.Body == http.NoBody {
		return nil, nil
	}
	if wantJSON && !bodyIsJSON(s.r) {
		mt := bodyMediaType(s.r)
		if mt == "" {
			mt = "(missing)"
		}
		return nil, newEndpointError(http.StatusUnsupportedMediaType, "", fmt.Errorf("endpoint: decode: body: unsupported media type %s", mt))
	}
	if !s.read {
		b, err := io.ReadAll(io.LimitReader(s.r.Body, maxBodyBytes))
		if err != nil {
			return nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		s.body, s.read = b, true
	}
	if len(s.body) == 0 {
		return nil, nil
	}
	return [][]byte{s.body}, nil
}

func toBytes(vs []string) [][]byte {
	if len(vs) == 0 {
		return nil
	}
	out := make([][]byte, len(vs))
	for i, s := range vs {
		out[i] = []byte(s)
	}
	return out
}

func bodyIsJSON(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	mt := bodyMediaType(r)
	return strings.HasPrefix(mt, "application/json") || strings.HasSuffix(mt, "+json")
}

func bodyMediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}

func parseFieldTags(sf reflect.StructField, limit int) (tags []fieldTag, ignored bool, err error) {
	for _, source := range sourceOrder {
		val, ok := sf.Tag.Lookup(source)
		if !ok {
			continue
		}
		parts := strings.Split(val, ",")
		name := strings.TrimSpace(parts[0])
		if name == "-" {
			return nil, true, nil
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		tag := fieldTag{source: source, name: name, maxLength: limit}
		for _, p := range parts[1:] {
			switch flag := strings.ToLower(strings.TrimSpace(p)); flag {
			case "":
			case "json":
				tag.json = true
			default:
				return nil, false, fmt.Errorf("unknown %s tag flag %q", source, flag)
			}
		}
		if source == "body" && !tag.json && !isStringOrBytes(sf.Type) {
			tag.json = true
		}
		if source == "body" && limit == defaultFieldLimit {
			tag.maxLength = 0
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: invalid maxLength %q", sf.Name, val))
	}
	return n, nil
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// isStructLike reports whether an untagged field should be decoded
// recursively rather than as a leaf value.
func isStructLike(fv reflect.Value) bool {
	t := fv.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	return !reflect.PointerTo(t).Implements(textUnmarshalerType) && !t.Implements(textUnmarshalerType)
}

func derefStruct(fv reflect.Value) reflect.Value {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		return fv.Elem()
	}
	return fv
}

func isStringOrBytes(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func setField(v reflect.Value, values [][]byte, asJSON bool) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if asJSON {
		return json.NewDecoder(bytes.NewReader(values[0])).Decode(v.Addr().Interface())
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		v.SetBytes(values[0])
		return nil
	}
	if v.Kind() == reflect.Slice {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, val := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setScalar(elem, val); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setScalar(v, values[0])
}

func setScalar(v reflect.Value, b []byte) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText(b)
		}
	}
	s := string(b)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
