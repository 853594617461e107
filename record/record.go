// Package record inspects caller-declared record structs. Attributes
// are annotated with a `db` tag naming the storage column and marking
// the field kind:
//
//	type User struct {
//		ID    string `db:"id,primary"`
//		Name  string `db:"name,size=255"`
//		Owner string `db:"owner,foreign=users.id"`
//		Meta  map[string]any `db:"meta"`
//	}
//
// A record type is introspected once and cached; the resulting Info
// yields the ordered field list, the primary and foreign subsets, and
// converts record instances to and from config sections.
package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/squishylib/database/config"
	"github.com/squishylib/database/datatype"
)

// TagKey is the struct tag consulted for field annotations.
const TagKey = "db"

// Field describes one annotated attribute.
type Field struct {
	// Name is the storage column or document key.
	Name string
	// Type is the declared data type, inferred from the Go field type.
	Type datatype.DataType
	// MaxSize bounds the stored size; datatype.SizeUnbounded when unset.
	MaxSize int
	// Primary marks the field as part of the record identity.
	Primary bool
	// ForeignTable and ForeignColumn carry the reference of a foreign
	// field; both empty otherwise.
	ForeignTable  string
	ForeignColumn string

	index []int
}

// Foreign reports whether the field references another table.
func (f Field) Foreign() bool {
	return f.ForeignTable != ""
}

// Info is the cached description of one record type.
type Info struct {
	// Type is the underlying struct type.
	Type reflect.Type
	// Fields preserves declaration order.
	Fields []Field

	byName map[string]int
}

var infoCache sync.Map // reflect.Type -> *Info

// Inspect returns the Info for a record instance or pointer to one.
func Inspect(rec any) (*Info, error) {
	t := reflect.TypeOf(rec)
	if t == nil {
		return nil, fmt.Errorf("record: cannot inspect nil")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return InspectType(t)
}

// InspectType returns the Info for a record struct type, building and
// validating it on first use.
func InspectType(t reflect.Type) (*Info, error) {
	if cached, ok := infoCache.Load(t); ok {
		return cached.(*Info), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record: %s is not a struct", t)
	}

	info := &Info{Type: t, byName: map[string]int{}}
	if err := collectFields(t, nil, info); err != nil {
		return nil, err
	}
	if len(info.Primaries()) == 0 {
		return nil, fmt.Errorf("record: %s declares no primary field", t)
	}

	actual, _ := infoCache.LoadOrStore(t, info)
	return actual.(*Info), nil
}

func collectFields(t reflect.Type, index []int, info *Info) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		path := append(append([]int(nil), index...), i)

		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && sf.Tag.Get(TagKey) == "" {
			embedded := sf.Type
			if embedded.Kind() == reflect.Ptr {
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				if err := collectFields(embedded, path, info); err != nil {
					return err
				}
			}
			continue
		}

		tag := sf.Tag.Get(TagKey)
		if tag == "" || tag == "-" {
			continue
		}
		field, err := parseTag(tag, sf)
		if err != nil {
			return fmt.Errorf("record: %s.%s: %w", t, sf.Name, err)
		}
		if _, dup := info.byName[field.Name]; dup {
			return fmt.Errorf("record: %s declares field name %q twice", t, field.Name)
		}
		field.index = path
		info.byName[field.Name] = len(info.Fields)
		info.Fields = append(info.Fields, field)
	}
	return nil
}

func parseTag(tag string, sf reflect.StructField) (Field, error) {
	parts := strings.Split(tag, ",")
	field := Field{
		Name:    strings.TrimSpace(parts[0]),
		Type:    typeOf(sf.Type),
		MaxSize: datatype.SizeUnbounded,
	}
	if field.Name == "" {
		return Field{}, fmt.Errorf("empty field name")
	}
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "primary":
			field.Primary = true
		case strings.HasPrefix(opt, "size="):
			n, err := strconv.Atoi(opt[len("size="):])
			if err != nil || n <= 0 {
				return Field{}, fmt.Errorf("invalid size option %q", opt)
			}
			field.MaxSize = n
		case strings.HasPrefix(opt, "foreign="):
			ref := opt[len("foreign="):]
			table, column, ok := strings.Cut(ref, ".")
			if !ok || table == "" || column == "" {
				return Field{}, fmt.Errorf("invalid foreign reference %q, want table.column", ref)
			}
			field.ForeignTable = table
			field.ForeignColumn = column
		case opt == "":
		default:
			return Field{}, fmt.Errorf("unknown tag option %q", opt)
		}
	}
	return field, nil
}

// typeOf maps a Go field type onto the declared variant set.
func typeOf(t reflect.Type) datatype.DataType {
	switch t.Kind() {
	case reflect.Bool:
		return datatype.Boolean
	case reflect.Int32:
		return datatype.Integer
	case reflect.Int, reflect.Int64:
		return datatype.Long
	case reflect.Float32:
		return datatype.Float
	case reflect.Float64:
		return datatype.Double
	case reflect.String:
		return datatype.String
	default:
		return datatype.Default
	}
}

// Field looks a field up by storage name.
func (i *Info) Field(name string) (Field, bool) {
	idx, ok := i.byName[name]
	if !ok {
		return Field{}, false
	}
	return i.Fields[idx], true
}

// Primaries returns the primary subset in declaration order.
func (i *Info) Primaries() []Field {
	var out []Field
	for _, f := range i.Fields {
		if f.Primary {
			out = append(out, f)
		}
	}
	return out
}

// Foreigns returns the foreign subset in declaration order.
func (i *Info) Foreigns() []Field {
	var out []Field
	for _, f := range i.Fields {
		if f.Foreign() {
			out = append(out, f)
		}
	}
	return out
}

// ToSection materializes a record instance into a section keyed by
// field name. This is the only way the library reads record state.
func (i *Info) ToSection(rec any) (*config.Section, error) {
	v, err := i.structValue(rec)
	if err != nil {
		return nil, err
	}
	section := config.New()
	for _, f := range i.Fields {
		section.Set(f.Name, v.FieldByIndex(f.index).Interface())
	}
	return section, nil
}

// Values returns the field-value map of a record instance.
func (i *Info) Values(rec any) (map[string]any, error) {
	section, err := i.ToSection(rec)
	if err != nil {
		return nil, err
	}
	return section.Map(), nil
}

// Apply fills a record instance from a section, converting values where
// the stored and declared Go types differ.
func (i *Info) Apply(rec any, section *config.Section) error {
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("record: Apply needs a non-nil pointer, got %T", rec)
	}
	v = v.Elem()
	if v.Type() != i.Type {
		return fmt.Errorf("record: Apply on %s with Info for %s", v.Type(), i.Type)
	}
	for _, f := range i.Fields {
		raw, ok := section.Get(f.Name)
		if !ok || raw == nil {
			continue
		}
		target := v.FieldByIndex(f.index)
		if err := assign(target, raw); err != nil {
			return fmt.Errorf("record: field %q: %w", f.Name, err)
		}
	}
	return nil
}

// assign sets raw into target, converting when required. Values that
// are neither assignable nor convertible go through a JSON round trip,
// which covers maps and nested structures from the default variant.
func assign(target reflect.Value, raw any) error {
	rv := reflect.ValueOf(raw)
	switch {
	case rv.Type().AssignableTo(target.Type()):
		target.Set(rv)
	case rv.Type().ConvertibleTo(target.Type()) && compatibleKinds(rv.Kind(), target.Kind()):
		target.Set(rv.Convert(target.Type()))
	default:
		buf, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("cannot assign %T to %s", raw, target.Type())
		}
		fresh := reflect.New(target.Type())
		if err := json.Unmarshal(buf, fresh.Interface()); err != nil {
			return fmt.Errorf("cannot assign %T to %s: %v", raw, target.Type(), err)
		}
		target.Set(fresh.Elem())
	}
	return nil
}

// compatibleKinds keeps Convert from doing surprising cross-kind
// conversions like int -> string.
func compatibleKinds(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	if numeric(from) && numeric(to) {
		return true
	}
	return from == to
}

func (i *Info) structValue(rec any) (reflect.Value, error) {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("record: nil %T", rec)
		}
		v = v.Elem()
	}
	if v.Type() != i.Type {
		return reflect.Value{}, fmt.Errorf("record: value is %s, Info is for %s", v.Type(), i.Type)
	}
	return v, nil
}
