// Package common holds process-wide helpers shared by the node and collector binaries.
package common

// Version is overridden at build time with -ldflags "-X ...common.Version=<tag>".
var Version = "dev"

// PackageName is used as the metrics namespace.
const PackageName = "dephy"
