// Package queryview projects object store snapshots into the read model a
// caller renders.
//
// Project is a pure function of (snapshot, params): the same inputs always
// produce a ViewModel equal by value. Memo adds a one-entry cache in front of
// it so an unchanged snapshot never re-projects.
//
// Ordering follows the store's list view, which preserves server page
// order. Filters narrow that order without reordering it; SortBy is a
// client-side sort applied only when a caller asks for one.
package queryview
