//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// All components (CLI, capture format, agentd) share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
