// Package config manages the ModKit home directory (~/.modkit/) and the
// Viper-backed user configuration file inside it.
package config
