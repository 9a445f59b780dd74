package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/remindbot/internal/logging"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCP structures
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCP Server
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	// chatID is used when a tool call names no chat.
	chatID string
	client *http.Client
	log    zerolog.Logger
}

func NewMCPServer(log zerolog.Logger) *MCPServer {
	apiURL := os.Getenv("REMINDBOT_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return &MCPServer{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiUsername: os.Getenv("REMINDBOT_API_USERNAME"),
		apiPassword: os.Getenv("REMINDBOT_API_PASSWORD"),
		chatID:      os.Getenv("REMINDBOT_CHAT_ID"),
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

// Run serves newline-delimited JSON-RPC requests until in is exhausted.
func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			s.log.Error().Err(err).Msg("read request")
			return
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var req JSONRPCRequest
			if jsonErr := json.Unmarshal([]byte(trimmed), &req); jsonErr != nil {
				s.log.Warn().Err(jsonErr).Msg("bad request json")
			} else if response, ok := s.handleRequest(req); ok {
				responseBytes, _ := json.Marshal(response)
				fmt.Fprintln(out, string(responseBytes))
			}
		}

		if err == io.EOF {
			return
		}
	}
}

// handleRequest reports false for notifications, which get no response.
func (s *MCPServer) handleRequest(req JSONRPCRequest) (JSONRPCResponse, bool) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req), true
	case "initialized", "notifications/initialized":
		return JSONRPCResponse{}, false
	case "tools/list":
		return s.handleToolsList(req), true
	case "tools/call":
		return s.handleToolsCall(req), true
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}, true
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "remindbot-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var chatProperty = Property{Type: "string", Description: "ID чата Telegram (по умолчанию REMINDBOT_CHAT_ID)"}

func (s *MCPServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	tools := []Tool{
		{
			Name:        "remindbot_list_reminders",
			Description: "Получить список напоминаний чата с правилом повтора и следующим срабатыванием.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"chat_id": chatProperty},
			},
		},
		{
			Name: "remindbot_add_reminder",
			Description: "Добавить напоминание. Повтор: n (нет), y (ежегодно), m3 (каждые 3 месяца), " +
				"d2 (каждые 2 дня), w135 (по пн, ср и пт).",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"chat_id":     chatProperty,
					"date":        {Type: "string", Description: "Дата ДД/ММ/ГГГГ"},
					"time":        {Type: "string", Description: "Время ЧЧ:ММ"},
					"repeat":      {Type: "string", Description: "Правило повтора, по умолчанию n"},
					"description": {Type: "string", Description: "Текст напоминания"},
				},
				Required: []string{"date", "time", "description"},
			},
		},
		{
			Name:        "remindbot_delete_reminder",
			Description: "Удалить напоминание по его ID.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"chat_id":     chatProperty,
					"reminder_id": {Type: "string", Description: "ID напоминания (число)"},
				},
				Required: []string{"reminder_id"},
			},
		},
		{
			Name:        "remindbot_set_enabled",
			Description: "Включить или выключить напоминание.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"chat_id":     chatProperty,
					"reminder_id": {Type: "string", Description: "ID напоминания (число)"},
					"enabled":     {Type: "boolean", Description: "true чтобы включить"},
				},
				Required: []string{"reminder_id", "enabled"},
			},
		},
		{
			Name:        "remindbot_upcoming",
			Description: "Ближайшие срабатывания: w (7 дней), cw (до конца недели), m (31 день), cm (до конца месяца).",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"chat_id": chatProperty,
					"range":   {Type: "string", Description: "Период", Enum: []string{"w", "cw", "m", "cm"}},
				},
			},
		},
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
}

func argString(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *MCPServer) chatArg(args map[string]interface{}) (string, error) {
	chatID := argString(args, "chat_id")
	if chatID == "" {
		chatID = s.chatID
	}
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		return "", fmt.Errorf("chat_id is required")
	}
	return chatID, nil
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	result, isError := s.callTool(params)
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *MCPServer) callTool(params ToolCallParams) (string, bool) {
	args := params.Arguments
	chatID, err := s.chatArg(args)
	if err != nil {
		return err.Error(), true
	}
	q := url.Values{"chat_id": {chatID}}

	switch params.Name {
	case "remindbot_list_reminders":
		return s.apiRequest(http.MethodGet, "/api/reminders?"+q.Encode(), nil)
	case "remindbot_add_reminder":
		repeat := argString(args, "repeat")
		if repeat == "" {
			repeat = "n"
		}
		n, _ := strconv.ParseInt(chatID, 10, 64)
		command := strings.Join([]string{
			argString(args, "date"), argString(args, "time"), repeat, argString(args, "description"),
		}, " ")
		return s.apiRequest(http.MethodPost, "/api/reminders", map[string]interface{}{
			"chat_id": n,
			"command": command,
		})
	case "remindbot_delete_reminder":
		id := argString(args, "reminder_id")
		return s.apiRequest(http.MethodDelete, "/api/reminders/"+url.PathEscape(id)+"?"+q.Encode(), nil)
	case "remindbot_set_enabled":
		id := argString(args, "reminder_id")
		enabled, _ := args["enabled"].(bool)
		return s.apiRequest(http.MethodPatch, "/api/reminders/"+url.PathEscape(id)+"?"+q.Encode(),
			map[string]bool{"enabled": enabled})
	case "remindbot_upcoming":
		if r := argString(args, "range"); r != "" {
			q.Set("range", r)
		}
		return s.apiRequest(http.MethodGet, "/api/upcoming?"+q.Encode(), nil)
	default:
		return "Unknown tool: " + params.Name, true
	}
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.apiURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}

	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}

	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	// Pretty print the data
	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}

func main() {
	// stdout carries the protocol; logs go to stderr
	log := logging.NewWithWriter(logging.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}, os.Stderr)

	NewMCPServer(log).Run(os.Stdin, os.Stdout)
}
