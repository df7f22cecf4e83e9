package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mpontes/rdcred/pkg/keymgr"
	"github.com/mpontes/rdcred/pkg/registry"
)

// ServerListInput represents input for the server_list tool.
type ServerListInput struct{}

// ServerListOutput represents output for the server_list tool.
type ServerListOutput struct {
	Servers []ServerInfo `json:"servers"`
}

// ServerInfo describes one registered server. Connection settings only,
// never a credential.
type ServerInfo struct {
	Name          string `json:"name"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username,omitempty"`
	HasCredential bool   `json:"has_credential"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ServerExistsInput represents input for the server_exists tool.
type ServerExistsInput struct {
	Name string `json:"name"`
}

// ServerExistsOutput represents output for the server_exists tool.
type ServerExistsOutput struct {
	Exists bool        `json:"exists"`
	Server *ServerInfo `json:"server,omitempty"`
}

// VaultStatusInput represents input for the vault_status tool.
type VaultStatusInput struct{}

// VaultStatusOutput represents output for the vault_status tool.
type VaultStatusOutput struct {
	State             string `json:"state"`
	MasterPasswordSet bool   `json:"master_password_set"`
	Unlocked          bool   `json:"unlocked"`
	ServerCount       int    `json:"server_count"`
	CredentialCount   int    `json:"credential_count"`
}

func serverInfo(s *registry.Server) ServerInfo {
	return ServerInfo{
		Name:          s.Name,
		Host:          s.Host,
		Port:          s.Port,
		Username:      s.Username,
		HasCredential: s.HasCred,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
}

// handleServerList handles the server_list tool call.
func (s *Server) handleServerList(_ context.Context, _ *mcp.CallToolRequest, _ ServerListInput) (*mcp.CallToolResult, ServerListOutput, error) {
	servers, err := s.reg.List()
	if err != nil {
		return nil, ServerListOutput{}, fmt.Errorf("failed to list servers: %w", err)
	}

	output := ServerListOutput{
		Servers: make([]ServerInfo, 0, len(servers)),
	}
	for _, srv := range servers {
		output.Servers = append(output.Servers, serverInfo(srv))
	}

	return nil, output, nil
}

// handleServerExists handles the server_exists tool call.
func (s *Server) handleServerExists(_ context.Context, _ *mcp.CallToolRequest, input ServerExistsInput) (*mcp.CallToolResult, ServerExistsOutput, error) {
	if input.Name == "" {
		return nil, ServerExistsOutput{}, errors.New("name is required")
	}

	srv, err := s.reg.Get(input.Name)
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			return nil, ServerExistsOutput{Exists: false}, nil
		}
		return nil, ServerExistsOutput{}, fmt.Errorf("failed to get server: %w", err)
	}

	info := serverInfo(srv)
	return nil, ServerExistsOutput{Exists: true, Server: &info}, nil
}

// handleVaultStatus handles the vault_status tool call.
func (s *Server) handleVaultStatus(_ context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	servers, err := s.reg.List()
	if err != nil {
		return nil, VaultStatusOutput{}, fmt.Errorf("failed to list servers: %w", err)
	}
	credCount := 0
	for _, srv := range servers {
		if srv.HasCred {
			credCount++
		}
	}

	state := s.keys.State()
	return nil, VaultStatusOutput{
		State:             state.String(),
		MasterPasswordSet: state != keymgr.UnlockedDefault,
		Unlocked:          state != keymgr.Locked,
		ServerCount:       len(servers),
		CredentialCount:   credCount,
	}, nil
}
