// Package backend defines the persistence and object-storage contracts
// the data-access layer is built against, together with a
// PostgREST/Supabase-style HTTP implementation of both.
//
// The contracts are deliberately small: rows travel as opaque Record
// maps, reads are by primary key or by an equality match, and writes
// return the row as the backend stored it. Everything above this
// package (store, bind, filestore) is backend-agnostic; swapping the
// HTTP client for an in-memory fake is how the rest of the module is
// tested.
package backend
