// Package lineage holds the table lineage graph used to size the blast radius of
// a pipeline incident. A Graph is built once from a Description and is read-only
// afterwards; reloads build a new Graph and swap it through a Holder.
package lineage
