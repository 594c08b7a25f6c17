package spi

import (
	"fmt"
	"sort"
)

// MaxAttributeNameLength bounds attribute key length in connector objects
// and filter paths.
const MaxAttributeNameLength = 128

// DeletedAttribute marks an object conveyed by sync as deleted on the
// backend.
const DeletedAttribute = "__DELETED__"

// ConnectorObject is the uniform representation of a remote entity.
// Attribute values are JSON-shaped: string, number, bool, nil, ordered
// lists of those, or nested map[string]any values, recursively.
type ConnectorObject struct {
	ObjectClass string         `json:"objectClass"`
	UID         string         `json:"uid"`
	Name        string         `json:"name,omitempty"`
	Attributes  map[string]any `json:"attributes"`
}

// Validate checks the structural invariants of the object.
func (o *ConnectorObject) Validate() error {
	if o.ObjectClass == "" {
		return NewValidationError("objectClass is required")
	}
	if o.UID == "" {
		return NewValidationError("uid is required")
	}
	for name := range o.Attributes {
		if name == "" {
			return NewValidationError("attribute names must be non-empty")
		}
		if len(name) > MaxAttributeNameLength {
			return NewValidationErrorf("attribute name %q exceeds %d characters", name[:MaxAttributeNameLength], MaxAttributeNameLength)
		}
	}
	return nil
}

// StringAttr returns the named attribute as a string.
func (o *ConnectorObject) StringAttr(name string) (string, bool) {
	v, ok := o.Attributes[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IsDeleted reports whether this object is a sync deletion marker.
func (o *ConnectorObject) IsDeleted() bool {
	v, ok := o.Attributes[DeletedAttribute]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// NewDeletedObject builds the sync deletion marker for an object.
func NewDeletedObject(objectClass, uid string) *ConnectorObject {
	return &ConnectorObject{
		ObjectClass: objectClass,
		UID:         uid,
		Attributes:  map[string]any{DeletedAttribute: true},
	}
}

// AttributeType enumerates schema attribute value types.
type AttributeType string

const (
	TypeString    AttributeType = "string"
	TypeInteger   AttributeType = "integer"
	TypeBoolean   AttributeType = "boolean"
	TypeDatetime  AttributeType = "datetime"
	TypeReference AttributeType = "reference"
	TypeComplex   AttributeType = "complex"
)

// SchemaAttribute describes one attribute of an object class.
type SchemaAttribute struct {
	Name              string            `json:"name"`
	Type              AttributeType     `json:"type"`
	Required          bool              `json:"required,omitempty"`
	MultiValued       bool              `json:"multiValued,omitempty"`
	Creatable         bool              `json:"creatable,omitempty"`
	Updateable        bool              `json:"updateable,omitempty"`
	Readable          bool              `json:"readable,omitempty"`
	ReturnedByDefault bool              `json:"returnedByDefault,omitempty"`
	SubAttributes     []SchemaAttribute `json:"subAttributes,omitempty"`
}

// ObjectClassOperation names an operation an object class supports.
type ObjectClassOperation string

const (
	SupportsCreate ObjectClassOperation = "CREATE"
	SupportsUpdate ObjectClassOperation = "UPDATE"
	SupportsDelete ObjectClassOperation = "DELETE"
	SupportsGet    ObjectClassOperation = "GET"
	SupportsSearch ObjectClassOperation = "SEARCH"
	SupportsSync   ObjectClassOperation = "SYNC"
)

// Default identity attributes for object classes that omit them.
const (
	DefaultIDAttribute   = "id"
	DefaultNameAttribute = "displayName"
)

// ObjectClassInfo describes one logical entity type exposed by a
// connector.
type ObjectClassInfo struct {
	Name          string                 `json:"name"`
	NativeName    string                 `json:"nativeName,omitempty"`
	IDAttribute   string                 `json:"idAttribute"`
	NameAttribute string                 `json:"nameAttribute"`
	Supports      []ObjectClassOperation `json:"supports"`
	Attributes    []SchemaAttribute      `json:"attributes"`
}

// Normalize fills defaulted identity attribute names.
func (o *ObjectClassInfo) Normalize() {
	if o.IDAttribute == "" {
		o.IDAttribute = DefaultIDAttribute
	}
	if o.NameAttribute == "" {
		o.NameAttribute = DefaultNameAttribute
	}
}

// SchemaFeatures flags optional connector capabilities surfaced by schema.
type SchemaFeatures struct {
	Paging            bool `json:"paging"`
	Sorting           bool `json:"sorting"`
	ScriptOnConnector bool `json:"scriptOnConnector"`
	ResolveUsername   bool `json:"resolveUsername"`
	ComplexAttributes bool `json:"complexAttributes"`
}

// Schema is the full description of a connector's object classes and
// features.
type Schema struct {
	ObjectClasses []ObjectClassInfo `json:"objectClasses"`
	Features      SchemaFeatures    `json:"features"`
}

// Normalize applies identity attribute defaults to every object class.
func (s *Schema) Normalize() {
	for i := range s.ObjectClasses {
		s.ObjectClasses[i].Normalize()
	}
}

// ObjectClass looks up an object class description by name.
func (s *Schema) ObjectClass(name string) (*ObjectClassInfo, bool) {
	for i := range s.ObjectClasses {
		if s.ObjectClasses[i].Name == name {
			return &s.ObjectClasses[i], true
		}
	}
	return nil, false
}

// SyncToken is an opaque continuation marker for delta sync. Only the
// connector interprets its value.
type SyncToken struct {
	Value string `json:"value"`
}

// SyncResult carries the next token and the changed objects of one delta
// sync call. Deletions are conveyed as objects whose attributes carry
// DeletedAttribute set to true.
type SyncResult struct {
	Token   *SyncToken         `json:"token"`
	Changes []*ConnectorObject `json:"changes"`
}

// ScriptContext carries a connector-side script execution request.
type ScriptContext struct {
	Language string         `json:"language"`
	Script   string         `json:"script"`
	Params   map[string]any `json:"params,omitempty"`
}

// Validate checks the required script fields.
func (s *ScriptContext) Validate() error {
	if s == nil {
		return NewValidationError("script context is required")
	}
	if s.Language == "" {
		return NewValidationError("context.language is required")
	}
	if s.Script == "" {
		return NewValidationError("context.script is required")
	}
	return nil
}

// SortedAttributeNames returns the object's attribute names in sorted
// order, for deterministic output.
func (o *ConnectorObject) SortedAttributeNames() []string {
	names := make([]string, 0, len(o.Attributes))
	for name := range o.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Project returns a copy of the object keeping only the requested
// attributes. An empty projection returns the object unchanged.
func (o *ConnectorObject) Project(attributesToGet []string) *ConnectorObject {
	if len(attributesToGet) == 0 {
		return o
	}
	projected := &ConnectorObject{
		ObjectClass: o.ObjectClass,
		UID:         o.UID,
		Name:        o.Name,
		Attributes:  make(map[string]any, len(attributesToGet)),
	}
	for _, name := range attributesToGet {
		if v, ok := o.Attributes[name]; ok {
			projected.Attributes[name] = v
		}
	}
	return projected
}

// String implements fmt.Stringer without dumping attribute values, which
// may contain sensitive data.
func (o *ConnectorObject) String() string {
	return fmt.Sprintf("%s/%s (%d attributes)", o.ObjectClass, o.UID, len(o.Attributes))
}
