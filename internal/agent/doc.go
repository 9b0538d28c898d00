// Package agent defines the capability contract between the step
// orchestration core and an autonomous agent implementation: settings
// compilation, name and goal derivation, workspace provisioning and loading,
// planning, ability selection and ability execution. The core never looks
// inside an agent; it only sequences calls through these interfaces.
package agent
