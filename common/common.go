// Package common holds build metadata and logger setup shared by the binaries.
package common

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

// PackageName names the project in logs and metrics.
const PackageName = "confidential-athlete-registry"
