// Package httpserver exposes the sandbox over HTTP.
//
// The router is a thin pass-through: POST /run decodes {code, language},
// calls the sandbox, and always answers 200 with {output, language}. The
// MCP streamable HTTP endpoint is mounted at /mcp when provided.
package httpserver
