// Package cursor searches an ordered list of keychains for records that
// match a set of attribute predicates.
//
// A Cursor visits each keychain in turn and yields matches one at a time.
// A keychain that cannot be searched (missing, locked, corrupt) is skipped;
// its error is only reported if no keychain could be searched at all.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/metrics"
)

// ErrStarted is returned when predicates are added after the first Next.
var ErrStarted = fmt.Errorf("%w: cursor already started", keychain.ErrInvalidArgument)

var failureLog = rate.Sometimes{First: 3, Interval: 10 * time.Second}

// Cursor is a single-pass search across keychains. It is not safe for
// concurrent use.
type Cursor struct {
	handles []*keychain.Handle
	query   keychain.Query

	pos       int
	native    keychain.RecordCursor
	started   bool
	closed    bool
	allFailed bool
	lastErr   error

	logger *slog.Logger
}

// New returns a cursor over handles for records of kind.
func New(handles []*keychain.Handle, kind keychain.RecordType) *Cursor {
	return &Cursor{
		handles:   handles,
		query:     keychain.Query{RecordType: kind, Conjunction: keychain.And},
		allFailed: true,
		logger:    slog.With("component", "cursor"),
	}
}

// NewFromAttributes builds an equality search from attrs. A class
// attribute selects the record kind instead of becoming a predicate;
// without one the cursor matches any kind. Date attributes in the legacy
// numeric encodings are normalised.
func NewFromAttributes(handles []*keychain.Handle, attrs []keychain.Attribute) (*Cursor, error) {
	c := New(handles, keychain.RecordAny)
	foundClass := false
	for _, a := range attrs {
		if a.Tag != keychain.AttrClass {
			c.query.Predicates = append(c.query.Predicates, keychain.Predicate{
				Attr:  a.Tag,
				Op:    keychain.OpEqual,
				Value: keychain.NormalizeTimeValue(a.Tag, a.Value),
			})
			continue
		}
		if foundClass {
			return nil, fmt.Errorf("%w: duplicate class attribute", keychain.ErrConflict)
		}
		if len(a.Value) != 4 {
			return nil, fmt.Errorf("%w: class attribute must be 4 bytes, got %d", keychain.ErrInvalidArgument, len(a.Value))
		}
		c.query.RecordType = keychain.RecordType(binary.BigEndian.Uint32(a.Value))
		foundClass = true
	}
	return c, nil
}

// Kind returns the record kind the cursor searches for.
func (c *Cursor) Kind() keychain.RecordType { return c.query.RecordType }

// Query returns a copy of the cursor's query.
func (c *Cursor) Query() keychain.Query {
	q := c.query
	q.Predicates = append([]keychain.Predicate(nil), c.query.Predicates...)
	return q
}

// SetConjunction chooses how predicates combine.
func (c *Cursor) SetConjunction(conj keychain.Conjunction) error {
	if c.started {
		return ErrStarted
	}
	c.query.Conjunction = conj
	return nil
}

// Add appends a predicate. Date values are normalised as in
// NewFromAttributes.
func (c *Cursor) Add(p keychain.Predicate) error {
	if c.started {
		return ErrStarted
	}
	p.Value = keychain.NormalizeTimeValue(p.Attr, p.Value)
	c.query.Predicates = append(c.query.Predicates, p)
	return nil
}

// AddTime appends a date predicate.
func (c *Cursor) AddTime(attr keychain.Attr, op keychain.Operator, t time.Time) error {
	return c.Add(keychain.Predicate{Attr: attr, Op: op, Value: keychain.TimeValue(t)})
}

// Next returns the next matching item. ok is false when the search is
// exhausted. If every keychain failed to search, the last failure is
// returned instead of a clean end.
func (c *Cursor) Next() (item *keychain.Item, ok bool, err error) {
	c.started = true
	if c.closed {
		return nil, false, nil
	}

	for {
		if c.native == nil {
			if c.pos >= len(c.handles) {
				if c.allFailed && c.lastErr != nil {
					return nil, false, c.lastErr
				}
				return nil, false, nil
			}
			h := c.handles[c.pos]
			native, err := h.Search(c.query)
			if err != nil {
				c.fail(h, err)
				c.advance()
				continue
			}
			c.native = native
		}

		h := c.handles[c.pos]
		rec, got, err := c.native.Next()
		if err != nil {
			c.fail(h, err)
			got = false
		} else {
			c.allFailed = false
		}

		if !got {
			c.advance()
			continue
		}

		// Any-kind searches skip the database's own blob and symmetric
		// keys.
		if c.query.RecordType == keychain.RecordAny &&
			(rec.Type == keychain.RecordDBBlob || rec.Type == keychain.RecordSymmetricKey) {
			continue
		}

		return h.Item(rec), true, nil
	}
}

func (c *Cursor) fail(h *keychain.Handle, err error) {
	c.lastErr = err
	metrics.CursorDatabaseFailures.Inc()
	failureLog.Do(func() {
		c.logger.Warn("skipping keychain in search", "keychain", h, "error", err)
	})
	if !errors.Is(err, keychain.ErrUnavailable) {
		c.logger.Debug("unclassified search failure", "keychain", h, "error", err)
	}
}

func (c *Cursor) advance() {
	if c.native != nil {
		if err := c.native.Close(); err != nil {
			c.logger.Debug("closing native cursor", "error", err)
		}
		c.native = nil
	}
	c.pos++
}

// Close releases the native cursor. Further calls to Next report the end
// of the search.
func (c *Cursor) Close() error {
	c.closed = true
	if c.native == nil {
		return nil
	}
	err := c.native.Close()
	c.native = nil
	return err
}
