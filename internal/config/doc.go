// Package config loads the AgentStep daemon configuration from a YAML file.
// The file location comes from AGENTSTEP_CONFIG and relative paths inside it
// are resolved against the directory that holds the file.
package config
