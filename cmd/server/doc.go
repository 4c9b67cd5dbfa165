// Package main is the entry point for the coderunner server.
//
// The server executes untrusted source snippets (Python, Java, JavaScript,
// Go, C++) either as host processes or in ephemeral containers, and returns
// their combined output. It serves POST /run over HTTP, with the MCP tool
// run_code mounted at /mcp, or the MCP tool alone over stdio.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
