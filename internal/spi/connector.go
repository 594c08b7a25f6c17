package spi

import (
	"context"
	"log/slog"
)

// OperationName identifies one uniform operation on the wire and in logs.
type OperationName string

const (
	OpTest                  OperationName = "test"
	OpSchema                OperationName = "schema"
	OpCreate                OperationName = "create"
	OpGet                   OperationName = "get"
	OpUpdate                OperationName = "update"
	OpDelete                OperationName = "delete"
	OpSearch                OperationName = "search"
	OpSync                  OperationName = "sync"
	OpAddAttributeValues    OperationName = "addAttributeValues"
	OpRemoveAttributeValues OperationName = "removeAttributeValues"
	OpScriptOnConnector     OperationName = "scriptOnConnector"
)

// Connector is the minimal contract every connector implements. Everything
// beyond shutdown is an optional capability discovered by type assertion,
// the same way database/sql probes drivers for optional interfaces.
type Connector interface {
	Close() error
}

// TestOp verifies connectivity to the backing system.
type TestOp interface {
	Test(ctx context.Context) error
}

// SchemaOp describes the object classes and features the connector serves.
type SchemaOp interface {
	Schema(ctx context.Context) (*Schema, error)
}

// GetOp fetches a single object by UID. A nil object with a nil error
// means not found.
type GetOp interface {
	Get(ctx context.Context, objectClass, uid string, opts *OperationOptions) (*ConnectorObject, error)
}

// CreateOp creates an object and returns it with its assigned UID.
type CreateOp interface {
	Create(ctx context.Context, objectClass string, attrs map[string]any, opts *OperationOptions) (*ConnectorObject, error)
}

// UpdateOp replaces the given attributes on an existing object.
type UpdateOp interface {
	Update(ctx context.Context, objectClass, uid string, attrs map[string]any, opts *OperationOptions) (*ConnectorObject, error)
}

// DeleteOp removes an object by UID.
type DeleteOp interface {
	Delete(ctx context.Context, objectClass, uid string, opts *OperationOptions) error
}

// Page is one page of list-style search results.
type Page struct {
	Objects               []*ConnectorObject `json:"objects"`
	NextOffset            int                `json:"nextOffset,omitempty"`
	PagedResultsCookie    string             `json:"pagedResultsCookie,omitempty"`
	RemainingPagedResults int                `json:"remainingPagedResults"`
}

// SearchOp runs a filtered search returning a page of materialized results.
type SearchOp interface {
	Search(ctx context.Context, objectClass string, filter *Filter, opts *OperationOptions) (*Page, error)
}

// ResultHandler receives one streamed object. Returning false stops the
// stream early without error.
type ResultHandler func(obj *ConnectorObject) bool

// StreamResult carries paging state back from a streaming search.
type StreamResult struct {
	PagedResultsCookie    string `json:"pagedResultsCookie,omitempty"`
	RemainingPagedResults int    `json:"remainingPagedResults"`
}

// StreamSearchOp runs a filtered search delivering objects one at a time.
type StreamSearchOp interface {
	StreamSearch(ctx context.Context, objectClass string, filter *Filter, opts *OperationOptions, handler ResultHandler) (*StreamResult, error)
}

// SyncOp returns changes since a token. A nil token asks for the latest
// token with no changes.
type SyncOp interface {
	Sync(ctx context.Context, objectClass string, token *SyncToken, opts *OperationOptions) (*SyncResult, error)
	LatestSyncToken(ctx context.Context, objectClass string) (*SyncToken, error)
}

// AttributeValuesOp adds or removes individual values on multi-valued
// attributes without replacing them wholesale.
type AttributeValuesOp interface {
	AddAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *OperationOptions) (*ConnectorObject, error)
	RemoveAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *OperationOptions) (*ConnectorObject, error)
}

// ScriptOp executes a script in the connector's environment.
type ScriptOp interface {
	ScriptOnConnector(ctx context.Context, script *ScriptContext, opts *OperationOptions) (any, error)
}

// FactoryParams carries everything a factory needs to build an instance.
type FactoryParams struct {
	// Logger is scoped to the instance; factories should not replace it.
	Logger *slog.Logger

	// Config is the built configuration value, produced by the type's
	// ConfigBuilder when one is registered, otherwise map[string]any.
	Config any

	InstanceID       string
	ConnectorID      string
	ConnectorType    string
	ConnectorVersion string
}

// Factory builds a connector instance from built configuration.
type Factory func(ctx context.Context, params FactoryParams) (Connector, error)

// ConfigBuilder turns raw manifest configuration into a typed config value.
type ConfigBuilder func(raw map[string]any) (any, error)

// ConfigValidator is implemented by typed configs that can check
// themselves after building.
type ConfigValidator interface {
	Validate() error
}

// Capabilities reports the operations a connector actually implements,
// in a stable order.
func Capabilities(c Connector) []OperationName {
	if c == nil {
		return nil
	}

	var caps []OperationName
	if _, ok := c.(TestOp); ok {
		caps = append(caps, OpTest)
	}
	if _, ok := c.(SchemaOp); ok {
		caps = append(caps, OpSchema)
	}
	if _, ok := c.(CreateOp); ok {
		caps = append(caps, OpCreate)
	}
	if _, ok := c.(GetOp); ok {
		caps = append(caps, OpGet)
	}
	if _, ok := c.(UpdateOp); ok {
		caps = append(caps, OpUpdate)
	}
	if _, ok := c.(DeleteOp); ok {
		caps = append(caps, OpDelete)
	}
	_, canSearch := c.(SearchOp)
	_, canStream := c.(StreamSearchOp)
	if canSearch || canStream {
		caps = append(caps, OpSearch)
	}
	if _, ok := c.(SyncOp); ok {
		caps = append(caps, OpSync)
	}
	if _, ok := c.(AttributeValuesOp); ok {
		caps = append(caps, OpAddAttributeValues, OpRemoveAttributeValues)
	}
	if _, ok := c.(ScriptOp); ok {
		caps = append(caps, OpScriptOnConnector)
	}
	return caps
}
