package cache

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeyGeneration is the cache-format generation embedded as the last
// component of every derived key. Bumping it orphans all previously
// persisted keys.
const KeyGeneration = "0"

const keySeparator = ":"

var componentEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// GenerateKey derives the storage key for (namespace, key, params).
//
// The layout is namespace:key:params:generation. Separators inside the
// namespace and key are backslash-escaped. The params component is empty
// when params is nil and otherwise the xxhash64 of its JSON encoding;
// encoding/json sorts map keys at every depth, so structurally equal maps
// hash identically whatever their insertion order.
//
// Params JSON cannot represent faithfully (cycles, funcs, channels, NaN,
// non-string map keys, structs carrying unexported or json:"-" fields)
// are hashed from a canonical walk of their full content instead, marked
// with a leading "!".
func GenerateKey(namespace, key string, params any) string {
	var b strings.Builder
	b.Grow(len(namespace) + len(key) + 24)
	b.WriteString(componentEscaper.Replace(namespace))
	b.WriteString(keySeparator)
	b.WriteString(componentEscaper.Replace(key))
	b.WriteString(keySeparator)
	b.WriteString(paramsDigest(params))
	b.WriteString(keySeparator)
	b.WriteString(KeyGeneration)
	return b.String()
}

func paramsDigest(params any) (digest string) {
	if params == nil {
		return ""
	}
	// A panicking json.Marshaler must not escape key derivation.
	defer func() {
		if r := recover(); r != nil {
			digest = contentDigest(params)
		}
	}()

	b, err := json.Marshal(params)
	if err != nil {
		return contentDigest(params)
	}
	if string(b) == "null" {
		return ""
	}
	if hidesFields(reflect.ValueOf(params)) {
		return contentDigest(params)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func contentDigest(params any) string {
	w := canonicalWriter{active: make(map[visit]struct{})}
	w.write(reflect.ValueOf(params))
	return fmt.Sprintf("!%016x", xxhash.Sum64(w.buf.Bytes()))
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func marshalsItself(v reflect.Value) bool {
	t := v.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		return true
	}
	if v.CanAddr() {
		pt := reflect.PointerTo(t)
		return pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

// hidesFields reports whether v holds struct data the JSON encoding drops.
// It is only called on values that encoded successfully, so it never meets
// a cycle.
func hidesFields(v reflect.Value) bool {
	if !v.IsValid() || marshalsItself(v) {
		return false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil() && hidesFields(v.Elem())
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				continue
			}
			if f.Anonymous {
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if ft.Kind() != reflect.Struct && !f.IsExported() {
					return true
				}
			} else if !f.IsExported() {
				return true
			}
			if f.Tag.Get("json") == "-" {
				return true
			}
			if hidesFields(v.Field(i)) {
				return true
			}
		}
	case reflect.Map:
		if !mayHide(v.Type().Elem()) {
			return false
		}
		for it := v.MapRange(); it.Next(); {
			if hidesFields(it.Value()) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		if !mayHide(v.Type().Elem()) {
			return false
		}
		for i := 0; i < v.Len(); i++ {
			if hidesFields(v.Index(i)) {
				return true
			}
		}
	}
	return false
}

// mayHide reports whether values of t can contain a struct.
func mayHide(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

// canonicalWriter renders a value with its types, every struct field and
// map entries sorted by rendered key. References already on the current
// path render as a back-reference marker, so cycles terminate.
type canonicalWriter struct {
	buf    bytes.Buffer
	active map[visit]struct{}
}

func (w *canonicalWriter) enter(v reflect.Value) bool {
	k := visit{v.Pointer(), v.Type()}
	if _, ok := w.active[k]; ok {
		w.buf.WriteString("<cycle>")
		return false
	}
	w.active[k] = struct{}{}
	return true
}

func (w *canonicalWriter) leave(v reflect.Value) {
	delete(w.active, visit{v.Pointer(), v.Type()})
}

func (w *canonicalWriter) write(v reflect.Value) {
	if !v.IsValid() {
		w.buf.WriteString("nil")
		return
	}
	w.buf.WriteString(v.Type().String())
	w.buf.WriteByte('(')
	defer w.buf.WriteByte(')')

	switch v.Kind() {
	case reflect.Bool:
		w.buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w.buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		w.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		w.buf.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Complex64, reflect.Complex128:
		w.buf.WriteString(strconv.FormatComplex(v.Complex(), 'g', -1, 128))
	case reflect.String:
		w.buf.WriteString(strconv.Quote(v.String()))
	case reflect.Interface:
		if v.IsNil() {
			w.buf.WriteString("nil")
			return
		}
		w.write(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			w.buf.WriteString("nil")
			return
		}
		if !w.enter(v) {
			return
		}
		w.write(v.Elem())
		w.leave(v)
	case reflect.Slice:
		if v.IsNil() {
			w.buf.WriteString("nil")
			return
		}
		if !w.enter(v) {
			return
		}
		w.elems(v)
		w.leave(v)
	case reflect.Array:
		w.elems(v)
	case reflect.Map:
		if v.IsNil() {
			w.buf.WriteString("nil")
			return
		}
		if !w.enter(v) {
			return
		}
		w.entries(v)
		w.leave(v)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			w.buf.WriteString(t.Field(i).Name)
			w.buf.WriteByte('=')
			w.write(v.Field(i))
			w.buf.WriteByte(',')
		}
	default:
		// Func, Chan and UnsafePointer have identity only.
		w.buf.WriteString("0x")
		w.buf.WriteString(strconv.FormatUint(uint64(v.Pointer()), 16))
	}
}

func (w *canonicalWriter) elems(v reflect.Value) {
	for i := 0; i < v.Len(); i++ {
		w.write(v.Index(i))
		w.buf.WriteByte(',')
	}
}

func (w *canonicalWriter) entries(v reflect.Value) {
	type entry struct{ k, v []byte }
	list := make([]entry, 0, v.Len())
	for it := v.MapRange(); it.Next(); {
		kw := canonicalWriter{active: w.active}
		kw.write(it.Key())
		vw := canonicalWriter{active: w.active}
		vw.write(it.Value())
		list = append(list, entry{kw.buf.Bytes(), vw.buf.Bytes()})
	}
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i].k, list[j].k) < 0 })
	for _, e := range list {
		w.buf.Write(e.k)
		w.buf.WriteByte(':')
		w.buf.Write(e.v)
		w.buf.WriteByte(',')
	}
}
