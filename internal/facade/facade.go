// Package facade wraps one connector instance with the circuit breaker,
// the TTL cache and uniform operation semantics. Each facade exclusively
// owns its breaker; the cache may be shared because keys are namespaced
// by instance id.
package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/conduit/internal/breaker"
	"github.com/tombee/conduit/internal/cache"
	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/spi"
)

// Cache TTLs per purpose tag.
const (
	SchemaTTL = 5 * time.Minute
	GetTTL    = 30 * time.Second
)

// Purpose tags, the first part of every cache key.
const (
	purposeSchema = "schema"
	purposeGet    = "get"
)

// Config tunes a facade. Zero values take defaults.
type Config struct {
	// Breaker tuning; nil takes breaker defaults.
	Breaker *breaker.Config

	// Cache is the shared cache; nil gives the facade a private one.
	Cache *cache.Cache

	// Logger for operation logging; nil discards nothing but uses the
	// process default.
	Logger *slog.Logger
}

// Facade is the resilience wrapper around exactly one connector
// instance.
type Facade struct {
	id    string
	impl  spi.Connector
	br    *breaker.Breaker
	cache *cache.Cache
	log   *slog.Logger
}

// New wraps a connector instance.
func New(id string, impl spi.Connector, cfg Config) *Facade {
	c := cfg.Cache
	if c == nil {
		c = cache.New(0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		id:    id,
		impl:  impl,
		br:    breaker.New(cfg.Breaker),
		cache: c,
		log:   log.WithConnector(logger, id),
	}
}

// ID returns the wrapped instance's id.
func (f *Facade) ID() string { return f.id }

// BreakerStatus exposes the breaker snapshot for health endpoints.
func (f *Facade) BreakerStatus() breaker.Status { return f.br.Status() }

// execute runs fn through the breaker with metrics and logging. A
// timeoutMs in opts overrides the breaker's default call timeout.
func (f *Facade) execute(ctx context.Context, op spi.OperationName, opts *spi.OperationOptions, fn func(ctx context.Context) (any, error)) (any, error) {
	var timeout time.Duration
	if opts != nil && opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	start := time.Now()
	value, err := f.br.ExecuteTimeout(ctx, timeout, fn)
	status := f.br.Status()
	metrics.SetBreakerState(f.id, status.State)

	if err != nil {
		typed := spi.AsError(err)
		switch typed.Type {
		case spi.ErrorTypeCircuitOpen:
			metrics.RecordBreakerRejection(f.id, "open")
		case spi.ErrorTypeTooManyRequests:
			metrics.RecordBreakerRejection(f.id, "capacity")
		}
		metrics.RecordOperation(f.id, string(op), "error", time.Since(start))
		f.log.Warn("operation failed",
			log.String(log.OperationKey, string(op)),
			log.Error(typed),
		)
		return nil, typed
	}

	metrics.RecordOperation(f.id, string(op), "ok", time.Since(start))
	f.log.Debug("operation completed",
		log.String(log.OperationKey, string(op)),
		log.Duration(log.DurationKey, time.Since(start).Milliseconds()),
	)
	return value, nil
}

// Test verifies connectivity. Instances without a test capability
// succeed silently.
func (f *Facade) Test(ctx context.Context) error {
	op, ok := f.impl.(spi.TestOp)
	if !ok {
		return nil
	}
	_, err := f.execute(ctx, spi.OpTest, nil, func(ctx context.Context) (any, error) {
		return nil, op.Test(ctx)
	})
	return err
}

// defaultSchema is returned for instances without a schema capability.
func defaultSchema() *spi.Schema {
	return &spi.Schema{
		ObjectClasses: []spi.ObjectClassInfo{},
		Features:      spi.SchemaFeatures{ComplexAttributes: true},
	}
}

// Schema describes the instance's object classes, cached for SchemaTTL.
func (f *Facade) Schema(ctx context.Context) (*spi.Schema, error) {
	key := cache.Key(purposeSchema, f.id)
	if cached, ok := f.cache.Get(key); ok {
		metrics.RecordCacheHit(purposeSchema)
		return cached.(*spi.Schema), nil
	}
	metrics.RecordCacheMiss(purposeSchema)

	op, ok := f.impl.(spi.SchemaOp)
	if !ok {
		schema := defaultSchema()
		f.cache.SetTTL(key, schema, SchemaTTL)
		return schema, nil
	}

	value, err := f.execute(ctx, spi.OpSchema, nil, func(ctx context.Context) (any, error) {
		return op.Schema(ctx)
	})
	if err != nil {
		return nil, err
	}

	schema := value.(*spi.Schema)
	if schema == nil {
		schema = defaultSchema()
	}
	schema.Normalize()
	f.cache.SetTTL(key, schema, SchemaTTL)
	return schema, nil
}

// Get fetches one object, caching non-null results for GetTTL. The
// requested projection is part of the key so narrower requests never
// serve wider cached objects.
func (f *Facade) Get(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if objectClass == "" || uid == "" {
		return nil, spi.NewValidationError("objectClass and uid are required")
	}
	op, ok := f.impl.(spi.GetOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpGet))
	}

	key := cache.Key(purposeGet, f.id, objectClass, uid, opts.SortedAttributesToGet())
	if cached, ok := f.cache.Get(key); ok {
		metrics.RecordCacheHit(purposeGet)
		return cached.(*spi.ConnectorObject), nil
	}
	metrics.RecordCacheMiss(purposeGet)

	value, err := f.execute(ctx, spi.OpGet, opts, func(ctx context.Context) (any, error) {
		return op.Get(ctx, objectClass, uid, opts)
	})
	if err != nil {
		return nil, err
	}

	obj, _ := value.(*spi.ConnectorObject)
	if obj != nil {
		f.cache.SetTTL(key, obj, GetTTL)
	}
	return obj, nil
}

// Create adds an object and invalidates schema and object-class reads.
func (f *Facade) Create(ctx context.Context, objectClass string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if objectClass == "" {
		return nil, spi.NewValidationError("objectClass is required")
	}
	op, ok := f.impl.(spi.CreateOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpCreate))
	}

	value, err := f.execute(ctx, spi.OpCreate, opts, func(ctx context.Context) (any, error) {
		return op.Create(ctx, objectClass, attrs, opts)
	})
	if err != nil {
		return nil, err
	}

	f.invalidate(cache.Key(purposeSchema, f.id))
	f.invalidate(cache.Key(purposeGet, f.id, objectClass))
	return value.(*spi.ConnectorObject), nil
}

// Update replaces attributes on an object and invalidates its reads.
func (f *Facade) Update(ctx context.Context, objectClass, uid string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if objectClass == "" || uid == "" {
		return nil, spi.NewValidationError("objectClass and uid are required")
	}
	op, ok := f.impl.(spi.UpdateOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpUpdate))
	}

	value, err := f.execute(ctx, spi.OpUpdate, opts, func(ctx context.Context) (any, error) {
		return op.Update(ctx, objectClass, uid, attrs, opts)
	})
	if err != nil {
		return nil, err
	}

	f.invalidate(cache.Key(purposeGet, f.id, objectClass, uid))
	return value.(*spi.ConnectorObject), nil
}

// Delete removes an object and invalidates its reads.
func (f *Facade) Delete(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) error {
	if objectClass == "" || uid == "" {
		return spi.NewValidationError("objectClass and uid are required")
	}
	op, ok := f.impl.(spi.DeleteOp)
	if !ok {
		return spi.NewNotSupported(string(spi.OpDelete))
	}

	_, err := f.execute(ctx, spi.OpDelete, opts, func(ctx context.Context) (any, error) {
		return nil, op.Delete(ctx, objectClass, uid, opts)
	})
	if err != nil {
		return err
	}

	f.invalidate(cache.Key(purposeGet, f.id, objectClass, uid))
	return nil
}

// AddAttributeValues appends values to multi-valued attributes.
func (f *Facade) AddAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	return f.attributeValues(ctx, spi.OpAddAttributeValues, objectClass, uid, attrs, opts)
}

// RemoveAttributeValues removes values from multi-valued attributes.
func (f *Facade) RemoveAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	return f.attributeValues(ctx, spi.OpRemoveAttributeValues, objectClass, uid, attrs, opts)
}

func (f *Facade) attributeValues(ctx context.Context, opName spi.OperationName, objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if objectClass == "" || uid == "" {
		return nil, spi.NewValidationError("objectClass and uid are required")
	}
	op, ok := f.impl.(spi.AttributeValuesOp)
	if !ok {
		return nil, spi.NewNotSupported(string(opName))
	}

	value, err := f.execute(ctx, opName, opts, func(ctx context.Context) (any, error) {
		if opName == spi.OpAddAttributeValues {
			return op.AddAttributeValues(ctx, objectClass, uid, attrs, opts)
		}
		return op.RemoveAttributeValues(ctx, objectClass, uid, attrs, opts)
	})
	if err != nil {
		return nil, err
	}

	f.invalidate(cache.Key(purposeGet, f.id, objectClass, uid))
	return value.(*spi.ConnectorObject), nil
}

// ScriptOnConnector executes a script in the connector's environment.
// Results are caller-opaque.
func (f *Facade) ScriptOnConnector(ctx context.Context, script *spi.ScriptContext, opts *spi.OperationOptions) (any, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	op, ok := f.impl.(spi.ScriptOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpScriptOnConnector))
	}

	return f.execute(ctx, spi.OpScriptOnConnector, opts, func(ctx context.Context) (any, error) {
		return op.ScriptOnConnector(ctx, script, opts)
	})
}

// invalidate drops every cache entry under prefix. Runs after the
// backend call succeeded and before the facade returns.
func (f *Facade) invalidate(prefix string) {
	if removed := f.cache.DeletePrefix(prefix); removed > 0 {
		metrics.RecordCacheInvalidation(purposeFromKey(prefix), removed)
	}
}

func purposeFromKey(key string) string {
	// Keys start with the JSON-quoted purpose tag.
	if len(key) > 2 && key[0] == '"' {
		for i := 1; i < len(key); i++ {
			if key[i] == '"' {
				return key[1:i]
			}
		}
	}
	return "unknown"
}
