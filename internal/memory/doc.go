// Package memory defines the context item model shared by every memoryd
// component: the item taxonomy, the query and result types consumed by the
// retrieval engine, and the learning records produced by consolidation.
//
// The package is purely data; persistence lives in internal/store and the
// backing collections in internal/vectorstore.
package memory
