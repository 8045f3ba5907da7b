// Package query validates audit queries and fills in defaults before they
// reach a storage backend.
//
//	q := &evidence.Query{ActionID: id, SortOrder: "asc"}
//	if err := query.Validate(q); err != nil {
//	    return err
//	}
//	query.ApplyDefaults(q)
//	records, err := store.Query(ctx, q)
package query
