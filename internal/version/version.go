package version

// Version is the current version of dbrecon.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "dbrecon"

// Description is a short description of the application.
const Description = "Out-of-band CDC replication reconciliation tool"
