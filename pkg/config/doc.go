// Package config loads typed configuration structs from environment
// variables, with optional .env support for local development.
//
// Each config type is parsed once per process and cached, so packages
// can load their own config independently without re-reading the
// environment:
//
//	var pgCfg pg.Config
//	config.MustLoad(&pgCfg)
//
//	var dispatchCfg dispatch.Config
//	config.MustLoad(&dispatchCfg)
package config
