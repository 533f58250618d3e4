// Package vectorstore provides the vector storage adapter for KnowMe.
//
// A Store manages named collections with a fixed vector dimension and
// distance metric and exposes upsert, filtered similarity search, filtered
// scroll and filtered delete. Two backends are provided:
//
//   - QdrantStore: Qdrant over native gRPC (port 6334), used in production.
//   - ChromemStore: embedded chromem-go, in-memory or persisted to a
//     directory, used for local runs and tests.
//
// # Usage
//
//	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
//	    Host: "localhost",
//	    Port: 6334,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.EnsureCollection(ctx, "knowme_chunks", 768, vectorstore.DistanceCosine); err != nil {
//	    return err
//	}
//
//	results, err := store.Search(ctx, "knowme_chunks", queryVector, 20,
//	    vectorstore.Filter{"user_id": "u1"})
//
// # Errors
//
// Connectivity failures and timeouts are reported as ErrStoreUnavailable.
// Malformed filters, unknown collections, invalid names and dimension
// mismatches are reported as ErrInvalidRequest. Both are wrapped with
// operation detail and should be matched with errors.Is.
//
// # Filters
//
// A Filter is a conjunction of equality conditions over payload fields.
// Supported value types are string, bool and the integer kinds.
package vectorstore
