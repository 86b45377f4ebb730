package geometry

import (
	"sort"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// TypeCollector accumulates the distinct geometry types of a stream of raw
// values. It is not safe for concurrent use.
type TypeCollector struct {
	encoding domain.GeometryEncoding
	counts   map[domain.GeometryType]int
	skipped  int
}

// NewTypeCollector returns a collector decoding values in enc.
func NewTypeCollector(enc domain.GeometryEncoding) *TypeCollector {
	return &TypeCollector{
		encoding: enc,
		counts:   make(map[domain.GeometryType]int),
	}
}

// Add decodes one raw value and records its type. Empty values are skipped.
func (c *TypeCollector) Add(raw []byte) error {
	if len(raw) == 0 {
		c.skipped++
		return nil
	}
	g, err := Decode(raw, c.encoding)
	if err != nil {
		return err
	}
	t, err := TypeOf(g)
	if err != nil {
		return err
	}
	c.counts[t]++
	return nil
}

// Skipped returns how many null values were seen.
func (c *TypeCollector) Skipped() int {
	return c.skipped
}

// Types returns the distinct types seen, sorted by name.
func (c *TypeCollector) Types() []domain.GeometryType {
	types := make([]domain.GeometryType, 0, len(c.counts))
	for t := range c.counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Result reduces the collected types to one column type.
func (c *TypeCollector) Result() (domain.GeometryType, error) {
	return domain.CommonGeometryType(c.Types())
}

// InferType determines the single column type able to hold every non-null
// value. It fails with domain.ErrNoGeometryValues when all values are null.
func InferType(values [][]byte, enc domain.GeometryEncoding) (domain.GeometryType, error) {
	c := NewTypeCollector(enc)
	for _, v := range values {
		if err := c.Add(v); err != nil {
			return "", err
		}
	}
	return c.Result()
}
