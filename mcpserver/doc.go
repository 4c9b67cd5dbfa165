// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the sandbox through the run_code tool using
// the mark3labs/mcp-go library, either over stdio or as a streamable HTTP
// handler mounted by the httpserver package.
package mcpserver
