// Package spi defines the uniform operation surface shared by every
// connector: the object and schema data model, the operation option bag,
// the filter AST, the capability interfaces implemented by connectors, and
// the error taxonomy propagated to transports.
//
// Connectors implement the narrow optional interfaces (GetOp, SearchOp,
// SyncOp, ...) for the operations they support; the facade detects
// capabilities with type assertions the same way database/sql/driver
// detects optional driver features.
package spi
