// Package common holds process-wide identity and logging setup shared by
// every binary.
package common

// PackageName identifies this service in metrics and logs.
const PackageName = "efsf"

// Version is set at build time via ldflags.
var Version = "dev"
