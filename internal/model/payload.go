package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the closed set of record kinds the replica tracks.
type Kind string

const (
	KindProduct     Kind = "product"
	KindSellerOrder Kind = "seller_order"
	KindFAQQuestion Kind = "faq_question"
	KindFAQAnswer   Kind = "faq_answer"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindProduct, KindSellerOrder, KindFAQQuestion, KindFAQAnswer}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindSellerOrder, KindFAQQuestion, KindFAQAnswer:
		return true
	}
	return false
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// ErrInvalidPayload is wrapped by every payload validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the kind-specific body of a record. Implementations are plain
// structs with snake_case JSON tags and omitempty on every field the server
// may leave unset.
type Payload interface {
	Kind() Kind
	// Validate checks client-side invariants. Errors wrap ErrInvalidPayload.
	Validate() error
}

// Searchable exposes the text fields QueryView matches search terms against.
type Searchable interface {
	SearchText() []string
}

// Statused exposes the payload's own status field.
type Statused interface {
	StatusValue() string
}

// Categorized exposes a category reference.
type Categorized interface {
	CategoryRef() string
}

// NewPayload returns the zero payload for kind.
func NewPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindProduct:
		return Product{}, nil
	case KindSellerOrder:
		return SellerOrder{}, nil
	case KindFAQQuestion:
		return FAQQuestion{}, nil
	case KindFAQAnswer:
		return FAQAnswer{}, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}

// DecodePayload decodes JSON into the payload struct for kind. Unknown
// fields are rejected.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindProduct:
		var v Product
		err = dec.Decode(&v)
		p = v
	case KindSellerOrder:
		var v SellerOrder
		err = dec.Decode(&v)
		p = v
	case KindFAQQuestion:
		var v FAQQuestion
		err = dec.Decode(&v)
		p = v
	case KindFAQAnswer:
		var v FAQAnswer
		err = dec.Decode(&v)
		p = v
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// ToObject renders p as an Object. Fields left at their zero value are
// omitted.
func ToObject(p Payload) (Object, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("convert %s payload: %w", p.Kind(), err)
	}
	return obj, nil
}

// FromObject decodes obj into the payload struct for kind.
func FromObject(kind Kind, obj Object) (Payload, error) {
	data, err := obj.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return DecodePayload(kind, data)
}

// FromMap builds a payload from a plain map, as decoded from YAML.
func FromMap(kind Kind, m map[string]any) (Payload, error) {
	obj, err := ObjectFromMap(m)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", kind, err)
	}
	return FromObject(kind, obj)
}

// virtualPatcher is implemented by payloads that accept patch fields which
// do not map one-to-one onto a struct field.
type virtualPatcher interface {
	isVirtual(field string) bool
	applyVirtual(field string, v Value) (Payload, error)
}

// Apply overlays patch onto p and returns the resulting payload. p is not
// modified. Null values clear the named field.
func Apply(p Payload, patch Patch) (Payload, error) {
	if len(patch) == 0 {
		return p, nil
	}
	obj, err := ToObject(p)
	if err != nil {
		return nil, err
	}

	vp, hasVirtual := p.(virtualPatcher)
	var virtual []string
	for _, k := range patch.SortedKeys() {
		v := patch[k]
		if hasVirtual && vp.isVirtual(k) {
			virtual = append(virtual, k)
			continue
		}
		if _, isNull := v.(Null); isNull {
			delete(obj, k)
			continue
		}
		obj[k] = cloneValue(v)
	}

	out, err := FromObject(p.Kind(), obj)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	for _, k := range virtual {
		next, err := out.(virtualPatcher).applyVirtual(k, patch[k])
		if err != nil {
			return nil, fmt.Errorf("apply patch field %q: %w", k, err)
		}
		out = next
	}
	return out, nil
}

// Authoritative returns the payload a confirmed record carries. A payload
// returned by the server is the whole record and replaces local outright,
// so fields the server cleared stay cleared. Without one, local stands.
func Authoritative(local, returned Payload) (Payload, error) {
	if returned == nil {
		return local, nil
	}
	if local != nil && local.Kind() != returned.Kind() {
		return nil, fmt.Errorf("server returned a %s for a %s", returned.Kind(), local.Kind())
	}
	return returned, nil
}

// Fingerprint returns a stable content hash of p.
func Fingerprint(p Payload) (string, error) {
	obj, err := ToObject(p)
	if err != nil {
		return "", err
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return hashWithDomain(domainPayload+"/"+string(p.Kind()), data), nil
}

// Equal reports whether a and b carry the same kind and fields.
func Equal(a, b Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	fa, errA := Fingerprint(a)
	fb, errB := Fingerprint(b)
	return errA == nil && errB == nil && fa == fb
}

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, kind, fmt.Sprintf(format, args...))
}
