// Package report renders optional diagnostics for batch runs: a histogram of
// the inter-record intervals kept by downsampling, and an HTML scatter of
// exported object trajectories.
package report
