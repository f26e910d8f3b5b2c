// Package logx is the zerolog-backed logger used across pinetick.
//
// Components hold a Logger value and tag it with a "comp" field via With.
// Loggers derived from a Service pick up level and sink changes applied on
// config reload without being rebuilt.
package logx
