// Package pipeline provides the validation pipeline infrastructure.
package pipeline

import (
	"sync"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// Context holds all state needed during validation of a single record.
// It is passed through all validation phases and provides shared access to
// the record, the schema, and the accumulated results.
//
// Context instances are pooled for efficiency. Use AcquireContext() and
// Release() to manage them properly.
type Context struct {
	// Record is the record being validated. Phases must not mutate it.
	Record record.Record

	// Schema is the schema the record is validated against
	Schema *schema.Schema

	// Result accumulates validation issues
	Result *ph.Result

	// Options holds validation options
	Options *ContextOptions

	// mu protects the fields below during parallel phase execution
	mu sync.RWMutex

	// findings are the PHI findings of the record, set by the PHI phase
	findings []ph.Finding

	// quality is the quality report of the record, set by the quality phase
	quality *ph.QualityReport

	// Metadata for tracking
	metadata map[string]any
}

// ContextOptions holds validation options accessible during validation.
type ContextOptions struct {
	StrictMode         bool
	WarnUnknownFields  bool
	IncludePHIFindings bool
	IncludeQuality     bool
}

// OptionsFrom extracts the per-record options from validator options.
func OptionsFrom(o *ph.Options) *ContextOptions {
	return &ContextOptions{
		StrictMode:         o.StrictMode,
		WarnUnknownFields:  o.WarnUnknownFields,
		IncludePHIFindings: o.IncludePHIFindings,
		IncludeQuality:     o.IncludeQuality,
	}
}

// contextPool holds reusable Context instances.
var contextPool = sync.Pool{
	New: func() any {
		return &Context{
			metadata: make(map[string]any, 8),
		}
	},
}

// AcquireContext gets a Context from the pool.
// Call Release() when done to return it to the pool.
func AcquireContext() *Context {
	ctx := contextPool.Get().(*Context)
	ctx.Reset()
	return ctx
}

// Release returns the Context to the pool.
// After calling Release, the Context should not be used.
func (c *Context) Release() {
	if c == nil {
		return
	}

	// Don't return contexts with oversized maps
	if len(c.metadata) <= 64 {
		c.Reset()
		contextPool.Put(c)
	}
}

// Reset clears the context for reuse.
func (c *Context) Reset() {
	c.Record = nil
	c.Schema = nil
	c.Result = nil
	c.Options = nil
	c.findings = nil
	c.quality = nil

	for k := range c.metadata {
		delete(c.metadata, k)
	}
}

// SetMetadata stores a value in the context metadata.
// Thread-safe for use during parallel phase execution.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

// GetMetadata retrieves a value from the context metadata.
// Thread-safe for use during parallel phase execution.
func (c *Context) GetMetadata(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.metadata[key]
	c.mu.RUnlock()
	return v, ok
}

// SetFindings records the PHI findings of the record.
func (c *Context) SetFindings(findings []ph.Finding) {
	c.mu.Lock()
	c.findings = findings
	c.mu.Unlock()
}

// Findings returns the PHI findings recorded by the PHI phase.
func (c *Context) Findings() []ph.Finding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findings
}

// SetQuality records the quality report of the record.
func (c *Context) SetQuality(q *ph.QualityReport) {
	c.mu.Lock()
	c.quality = q
	c.mu.Unlock()
}

// Quality returns the quality report recorded by the quality phase.
func (c *Context) Quality() *ph.QualityReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quality
}

// Strict reports whether PHI findings fail validation.
func (c *Context) Strict() bool {
	return c.Options != nil && c.Options.StrictMode
}

// Field returns a top-level field of the record.
func (c *Context) Field(name string) (record.Value, bool) {
	return c.Record.Get(name)
}

// Lookup returns a nested field value using dot notation.
// Example: Lookup("vitals.spo2") returns the spo2 field of the vitals map.
func (c *Context) Lookup(path string) (record.Value, bool) {
	return c.Record.Lookup(path)
}

// NewContext creates a new Context (non-pooled).
// Prefer AcquireContext() for better performance.
func NewContext(rec record.Record, s *schema.Schema, opts *ContextOptions) *Context {
	return &Context{
		Record:   rec,
		Schema:   s,
		Options:  opts,
		metadata: make(map[string]any, 8),
	}
}

// ReleaseContext returns a Context to the pool.
// This is a convenience function equivalent to ctx.Release().
func ReleaseContext(ctx *Context) {
	if ctx != nil {
		ctx.Release()
	}
}
