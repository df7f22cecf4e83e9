// Package mcp implements the MCP (Model Context Protocol) server for
// rdcred. Agents get read-only visibility into the server inventory and
// vault state; no tool can return a plaintext credential, and no tool
// mutates anything.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mpontes/rdcred/pkg/keymgr"
	"github.com/mpontes/rdcred/pkg/registry"
)

// Server represents the MCP server for rdcred.
type Server struct {
	server *mcp.Server
	reg    *registry.Registry
	keys   *keymgr.Manager
}

// NewServer creates an MCP server over an already-opened registry and
// key manager. The caller decides whether the vault is unlocked; the
// tools work either way since none of them decrypt.
func NewServer(reg *registry.Registry, keys *keymgr.Manager) *Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "rdcred",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		server: mcpServer,
		reg:    reg,
		keys:   keys,
	}

	s.registerTools()

	return s
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	// server_list - List registered servers (no credentials)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "server_list",
		Description: "List all registered remote desktop servers. Returns names, hosts, ports, usernames, and a credential-presence flag. Does NOT return passwords.",
	}, s.handleServerList)

	// server_exists - Check a single server by name
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "server_exists",
		Description: "Check whether a server is registered and return its connection settings. Does NOT return the password.",
	}, s.handleServerExists)

	// vault_status - Report the credential vault state
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report the credential vault state: whether a master password is configured, whether the vault is unlocked, and how many servers have stored credentials.",
	}, s.handleVaultStatus)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
