package keychain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// RecordType is the kind of a stored record.
type RecordType uint32

const (
	RecordAny                RecordType = 0x7FFFFFFF
	RecordPublicKey          RecordType = 0x0000000F
	RecordPrivateKey         RecordType = 0x00000010
	RecordSymmetricKey       RecordType = 0x00000011
	RecordGenericPassword    RecordType = 0x80000000
	RecordInternetPassword   RecordType = 0x80000001
	RecordAppleSharePassword RecordType = 0x80000002
	RecordCertificate        RecordType = 0x80001000

	// RecordDBBlob marks the internal blob a database stores about itself.
	RecordDBBlob RecordType = 0x80008000
)

var recordTypeNames = map[RecordType]string{
	RecordAny:                "any",
	RecordPublicKey:          "public-key",
	RecordPrivateKey:         "private-key",
	RecordSymmetricKey:       "symmetric-key",
	RecordGenericPassword:    "generic-password",
	RecordInternetPassword:   "internet-password",
	RecordAppleSharePassword: "appleshare-password",
	RecordCertificate:        "certificate",
	RecordDBBlob:             "db-blob",
}

func (t RecordType) String() string {
	if s, ok := recordTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%08x", uint32(t))
}

// ParseRecordType accepts the names produced by String.
func ParseRecordType(s string) (RecordType, error) {
	for t, name := range recordTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown record kind %q", ErrInvalidArgument, s)
}

// Attr is a record attribute tag.
type Attr uint32

// FourCC packs a four character code.
func FourCC(s string) uint32 {
	var b [4]byte
	copy(b[:], s)
	return binary.BigEndian.Uint32(b[:])
}

var (
	AttrClass         = Attr(FourCC("clas"))
	AttrCreationDate  = Attr(FourCC("cdat"))
	AttrModDate       = Attr(FourCC("mdat"))
	AttrDescription   = Attr(FourCC("desc"))
	AttrComment       = Attr(FourCC("icmt"))
	AttrCreator       = Attr(FourCC("crtr"))
	AttrType          = Attr(FourCC("type"))
	AttrScriptCode    = Attr(FourCC("scrp"))
	AttrLabel         = Attr(FourCC("labl"))
	AttrAccount       = Attr(FourCC("acct"))
	AttrService       = Attr(FourCC("svce"))
	AttrGeneric       = Attr(FourCC("gena"))
	AttrServer        = Attr(FourCC("srvr"))
	AttrPublicKeyHash = Attr(FourCC("hpky"))
)

var timeAttrs = map[Attr]bool{AttrCreationDate: true, AttrModDate: true}

func (a Attr) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	return string(b[:])
}

// ParseAttr parses a four character attribute name.
func ParseAttr(s string) (Attr, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: attribute %q is not a four character code", ErrInvalidArgument, s)
	}
	return Attr(FourCC(s)), nil
}

// Uint32Value encodes an integer attribute.
func Uint32Value(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// FourCCValue encodes a four character code attribute such as a type tag.
func FourCCValue(s string) []byte {
	return Uint32Value(FourCC(s))
}

// TimeValue encodes t in the 16 byte time-string form stored for date
// attributes.
func TimeValue(t time.Time) []byte {
	b := make([]byte, 16)
	copy(b, t.UTC().Format("20060102150405Z"))
	return b
}

var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

// NormalizeTimeValue converts the legacy 4 byte (seconds since 1904) and
// 8 byte (16.16 fixed point seconds since 1904) date encodings to the 16
// byte time string. Other values, and non-date attributes, are returned
// unchanged.
func NormalizeTimeValue(tag Attr, v []byte) []byte {
	if !timeAttrs[tag] {
		return v
	}
	switch len(v) {
	case 4:
		secs := binary.BigEndian.Uint32(v)
		return TimeValue(macEpoch.Add(time.Duration(secs) * time.Second))
	case 8:
		secs := int64(binary.BigEndian.Uint64(v)) >> 16
		return TimeValue(macEpoch.Add(time.Duration(secs) * time.Second))
	}
	return v
}

// Attribute is one tag/value pair.
type Attribute struct {
	Tag   Attr
	Value []byte
}

// TimeAttribute builds a date attribute from a time.
func TimeAttribute(tag Attr, t time.Time) Attribute {
	return Attribute{Tag: tag, Value: TimeValue(t)}
}

// ClassAttribute builds the attribute that selects the record kind when a
// cursor is built from an attribute list.
func ClassAttribute(t RecordType) Attribute {
	return Attribute{Tag: AttrClass, Value: Uint32Value(uint32(t))}
}

// Operator compares a record attribute against a predicate value.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLessThan
	OpGreaterThan
	OpContains
	OpStartsWith
	OpEndsWith
)

// Conjunction joins the predicates of a query.
type Conjunction int

const (
	And Conjunction = iota
	Or
)

// Predicate is one (attribute, operator, value) condition.
type Predicate struct {
	Attr  Attr
	Op    Operator
	Value []byte
}

// Query selects records of one kind matching a set of predicates.
type Query struct {
	RecordType  RecordType
	Conjunction Conjunction
	Predicates  []Predicate
}

// Equal returns the value of the first equality predicate on attr.
func (q Query) Equal(attr Attr) ([]byte, bool) {
	for _, p := range q.Predicates {
		if p.Attr == attr && p.Op == OpEqual {
			return p.Value, true
		}
	}
	return nil, false
}

// Matches reports whether rec satisfies q. Engines that cannot express a
// query natively filter with it.
func (q Query) Matches(rec Record) bool {
	if q.RecordType != RecordAny && q.RecordType != rec.Type {
		return false
	}
	if len(q.Predicates) == 0 {
		return true
	}
	for _, p := range q.Predicates {
		ok := p.match(rec.Attrs[p.Attr])
		if q.Conjunction == Or && ok {
			return true
		}
		if q.Conjunction == And && !ok {
			return false
		}
	}
	return q.Conjunction == And
}

func (p Predicate) match(v []byte) bool {
	switch p.Op {
	case OpEqual:
		return v != nil && bytes.Equal(v, p.Value)
	case OpNotEqual:
		return !bytes.Equal(v, p.Value)
	case OpLessThan:
		return v != nil && bytes.Compare(v, p.Value) < 0
	case OpGreaterThan:
		return v != nil && bytes.Compare(v, p.Value) > 0
	case OpContains:
		return v != nil && bytes.Contains(v, p.Value)
	case OpStartsWith:
		return v != nil && bytes.HasPrefix(v, p.Value)
	case OpEndsWith:
		return v != nil && bytes.HasSuffix(v, p.Value)
	}
	return false
}

// Record is a record as stored by a database.
type Record struct {
	Type     RecordType
	UniqueID string
	Attrs    map[Attr][]byte
	Data     []byte
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := Record{Type: r.Type, UniqueID: r.UniqueID}
	if r.Attrs != nil {
		c.Attrs = make(map[Attr][]byte, len(r.Attrs))
		for k, v := range r.Attrs {
			c.Attrs[k] = bytes.Clone(v)
		}
	}
	c.Data = bytes.Clone(r.Data)
	return c
}

// ParseAttrValue turns command-line text into an attribute value: date
// attributes accept RFC 3339 times, "type" and "crtr" take a four character
// code, everything else is stored as the raw string.
func ParseAttrValue(tag Attr, s string) ([]byte, error) {
	switch {
	case timeAttrs[tag]:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an RFC 3339 time: %v", ErrInvalidArgument, tag, err)
		}
		return TimeValue(t), nil
	case tag == AttrType || tag == AttrCreator:
		if len(s) != 4 {
			return nil, fmt.Errorf("%w: %s expects a four character code", ErrInvalidArgument, tag)
		}
		return FourCCValue(s), nil
	}
	return []byte(strings.Clone(s)), nil
}
