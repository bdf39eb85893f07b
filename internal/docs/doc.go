// Package docs aggregates the OpenAPI documents published by backends.
//
// Each backend's document is fetched on demand, parsed with kin-openapi and
// re-homed onto the gateway by replacing its servers list. A failing backend
// only affects its own document.
package docs
