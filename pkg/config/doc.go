// Package config loads and validates governor configuration.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// by GOVERNOR_SECTION_FIELD environment variables and validated as a whole:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("governor.yaml")
//
// Components take the section they need as a parameter; there is no global
// instance.
package config
