package vectorindex

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// Key is a filterable chunk metadata field.
type Key string

const (
	KeyVersionID  Key = "version_id"
	KeyDocumentID Key = "document_id"
	KeyPath       Key = "path"
	KeyTitle      Key = "title"
	KeyChunkIndex Key = "chunk_index"
	KeyTokenCount Key = "token_count"
)

// numeric reports whether the key holds integers; the rest hold strings.
func (k Key) numeric() (bool, bool) {
	switch k {
	case KeyVersionID, KeyDocumentID, KeyPath, KeyTitle:
		return false, true
	case KeyChunkIndex, KeyTokenCount:
		return true, true
	}
	return false, false
}

// Filter is a predicate over chunk metadata. A nil Filter matches every chunk.
// The grammar is closed: Eq, Range, And and Or.
type Filter interface {
	filter()
}

// Eq matches chunks whose Key equals Value. Value is a string for string keys
// and an int or int64 for numeric keys.
type Eq struct {
	Key   Key
	Value any
}

// Range matches numeric keys within inclusive bounds. A nil bound is open.
type Range struct {
	Key Key
	Gte *float64
	Lte *float64
}

// And matches when every operand matches.
type And []Filter

// Or matches when at least one operand matches.
type Or []Filter

func (Eq) filter()    {}
func (Range) filter() {}
func (And) filter()   {}
func (Or) filter()    {}

// Version restricts a query to one library version.
func Version(id string) Filter {
	return Eq{Key: KeyVersionID, Value: id}
}

// Bound returns a pointer for Range bounds.
func Bound(v float64) *float64 {
	return &v
}

// Validate checks keys, value types and operand counts.
func Validate(f Filter) error {
	switch f := f.(type) {
	case nil:
		return nil
	case Eq:
		isNum, ok := f.Key.numeric()
		if !ok {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, f.Key)
		}
		if isNum {
			if _, ok := asInt64(f.Value); !ok {
				return fmt.Errorf("%w: %s needs an integer, got %T", ErrInvalidFilter, f.Key, f.Value)
			}
		} else if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("%w: %s needs a string, got %T", ErrInvalidFilter, f.Key, f.Value)
		}
	case Range:
		isNum, ok := f.Key.numeric()
		if !ok || !isNum {
			return fmt.Errorf("%w: range needs a numeric key, got %q", ErrInvalidFilter, f.Key)
		}
		if f.Gte == nil && f.Lte == nil {
			return fmt.Errorf("%w: range on %s has no bounds", ErrInvalidFilter, f.Key)
		}
	case And:
		return validateAll(f, "and")
	case Or:
		return validateAll(f, "or")
	default:
		return fmt.Errorf("%w: unsupported node %T", ErrInvalidFilter, f)
	}
	return nil
}

func validateAll(fs []Filter, op string) error {
	if len(fs) == 0 {
		return fmt.Errorf("%w: empty %s", ErrInvalidFilter, op)
	}
	for _, f := range fs {
		if f == nil {
			return fmt.Errorf("%w: nil operand in %s", ErrInvalidFilter, op)
		}
		if err := Validate(f); err != nil {
			return err
		}
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// Placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type Placeholder func(n int) string

// QuestionMark is SQLite's placeholder style.
func QuestionMark(int) string { return "?" }

// Dollar is Postgres' placeholder style.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// ToSQL compiles f into a boolean SQL expression over columns named after the
// keys. Bind numbering starts after offset existing parameters.
func ToSQL(f Filter, ph Placeholder, offset int) (string, []any, error) {
	if err := Validate(f); err != nil {
		return "", nil, err
	}
	if f == nil {
		return "", nil, nil
	}
	c := &sqlCompiler{ph: ph, n: offset}
	return c.compile(f), c.args, nil
}

type sqlCompiler struct {
	ph   Placeholder
	n    int
	args []any
}

func (c *sqlCompiler) bind(v any) string {
	c.n++
	c.args = append(c.args, v)
	return c.ph(c.n)
}

func (c *sqlCompiler) compile(f Filter) string {
	switch f := f.(type) {
	case Eq:
		v := f.Value
		if n, ok := asInt64(v); ok {
			v = n
		}
		return string(f.Key) + " = " + c.bind(v)
	case Range:
		var parts []string
		if f.Gte != nil {
			parts = append(parts, string(f.Key)+" >= "+c.bind(*f.Gte))
		}
		if f.Lte != nil {
			parts = append(parts, string(f.Key)+" <= "+c.bind(*f.Lte))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case And:
		return c.join(f, " AND ")
	case Or:
		return c.join(f, " OR ")
	}
	return ""
}

func (c *sqlCompiler) join(fs []Filter, sep string) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = c.compile(f)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// ToQdrant compiles f into a Qdrant filter over payload fields named after the keys.
func ToQdrant(f Filter) (*qdrant.Filter, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	switch f := f.(type) {
	case nil:
		return nil, nil
	case Or:
		return &qdrant.Filter{Should: qdrantConditions(f)}, nil
	case And:
		return &qdrant.Filter{Must: qdrantConditions(f)}, nil
	default:
		return &qdrant.Filter{Must: []*qdrant.Condition{qdrantCondition(f)}}, nil
	}
}

func qdrantConditions(fs []Filter) []*qdrant.Condition {
	out := make([]*qdrant.Condition, len(fs))
	for i, f := range fs {
		out[i] = qdrantCondition(f)
	}
	return out
}

func qdrantCondition(f Filter) *qdrant.Condition {
	switch f := f.(type) {
	case Eq:
		if n, ok := asInt64(f.Value); ok {
			return qdrant.NewMatchInt(string(f.Key), n)
		}
		return qdrant.NewMatch(string(f.Key), f.Value.(string))
	case Range:
		return qdrant.NewRange(string(f.Key), &qdrant.Range{Gte: f.Gte, Lte: f.Lte})
	case And:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: qdrantConditions(f)})
	case Or:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: qdrantConditions(f)})
	}
	return nil
}

// Predicate compiles f into a Go function over chunks.
func Predicate(f Filter) (func(*storage.DocumentChunk) bool, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	if f == nil {
		return func(*storage.DocumentChunk) bool { return true }, nil
	}
	return func(ch *storage.DocumentChunk) bool { return eval(f, ch) }, nil
}

func eval(f Filter, ch *storage.DocumentChunk) bool {
	switch f := f.(type) {
	case Eq:
		if n, ok := asInt64(f.Value); ok {
			v, _ := intField(f.Key, ch)
			return v == n
		}
		return stringField(f.Key, ch) == f.Value
	case Range:
		v, _ := intField(f.Key, ch)
		x := float64(v)
		return (f.Gte == nil || x >= *f.Gte) && (f.Lte == nil || x <= *f.Lte)
	case And:
		for _, sub := range f {
			if !eval(sub, ch) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range f {
			if eval(sub, ch) {
				return true
			}
		}
		return false
	}
	return false
}

func stringField(k Key, ch *storage.DocumentChunk) string {
	switch k {
	case KeyVersionID:
		return ch.Metadata.VersionID
	case KeyDocumentID:
		return ch.DocumentID
	case KeyPath:
		return ch.Metadata.Path
	case KeyTitle:
		return ch.Metadata.Title
	}
	return ""
}

func intField(k Key, ch *storage.DocumentChunk) (int64, bool) {
	switch k {
	case KeyChunkIndex:
		return int64(ch.ChunkIndex), true
	case KeyTokenCount:
		return int64(ch.TokenCount), true
	}
	return 0, false
}
