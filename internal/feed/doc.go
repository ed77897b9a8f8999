// Package feed holds the infinite-scroll core: the item and entry model, the
// pagination controller that slices the ordered index into batches, and the
// status text derived from its cursor.
//
// The controller never talks to the network or the screen directly. Index
// loading, content jobs, proximity detection, and presentation are injected
// through the interfaces in interfaces.go so each piece can be exercised in
// isolation.
package feed
