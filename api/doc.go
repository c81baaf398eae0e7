// Package api defines the HTTP request and response types of the taskmesh
// API. Handlers live in the handlers subpackage.
package api
