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
	"strings"
	"time"
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
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

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

// MCPServer exposes the ExamTracker REST API as MCP tools over stdio.
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	client      *http.Client
}

func NewMCPServer() *MCPServer {
	apiURL := os.Getenv("EXAMTRACKER_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return &MCPServer{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiUsername: os.Getenv("EXAMTRACKER_API_USERNAME"),
		apiPassword: os.Getenv("EXAMTRACKER_API_PASSWORD"),
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Run answers one JSON-RPC request per input line until in is exhausted.
func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintf(os.Stderr, "Error reading: %v\n", err)
			return
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var req JSONRPCRequest
			if jerr := json.Unmarshal([]byte(trimmed), &req); jerr != nil {
				fmt.Fprintf(os.Stderr, "Error parsing JSON: %v\n", jerr)
			} else if req.ID != nil {
				fmt.Fprintln(out, string(encodeResponse(s.handleRequest(req))))
			}
		}

		if err == io.EOF {
			return
		}
	}
}

// encodeResponse falls back to an internal error when the result cannot be encoded.
func encodeResponse(resp JSONRPCResponse) []byte {
	data, err := json.Marshal(resp)
	if err == nil {
		return data
	}
	fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
	data, err = json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      resp.ID,
		Error:   &RPCError{Code: -32603, Message: "Internal error: " + err.Error()},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return data
}

func (s *MCPServer) handleRequest(req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "examtracker-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var noArgs = InputSchema{Type: "object", Properties: map[string]Property{}}

var examIDArg = InputSchema{
	Type: "object",
	Properties: map[string]Property{
		"exam_id": {Type: "string", Description: "ID экзамена (UUID)"},
	},
	Required: []string{"exam_id"},
}

func (s *MCPServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	tools := []Tool{
		{
			Name:        "examtracker_list_exams",
			Description: "Получить все экзамены с датами, статусом, оценками и ID напоминания.",
			InputSchema: noArgs,
		},
		{
			Name:        "examtracker_list_upcoming",
			Description: "Получить предстоящие несданные экзамены.",
			InputSchema: noArgs,
		},
		{
			Name:        "examtracker_add_exam",
			Description: "Добавить экзамен. Напоминание будет запланировано автоматически.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"name":    {Type: "string", Description: "Название экзамена"},
					"subject": {Type: "string", Description: "Предмет (опционально)"},
					"date":    {Type: "string", Description: "Дата: RFC 3339 или YYYY-MM-DD [HH:MM]"},
				},
				Required: []string{"name", "date"},
			},
		},
		{
			Name:        "examtracker_complete_exam",
			Description: "Отметить экзамен как сданный. Его напоминание будет отменено.",
			InputSchema: examIDArg,
		},
		{
			Name:        "examtracker_grade_exam",
			Description: "Поставить оценку экзамену.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"exam_id": {Type: "string", Description: "ID экзамена (UUID)"},
					"grade":   {Type: "number", Description: "Оценка"},
				},
				Required: []string{"exam_id", "grade"},
			},
		},
		{
			Name:        "examtracker_delete_exam",
			Description: "Удалить экзамен.",
			InputSchema: examIDArg,
		},
		{
			Name:        "examtracker_get_settings",
			Description: "Получить настройки напоминаний.",
			InputSchema: noArgs,
		},
		{
			Name:        "examtracker_update_settings",
			Description: "Изменить настройки напоминаний. Не указанные поля не меняются.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"enabled":                 {Type: "boolean", Description: "Напоминания включены"},
					"reminder_days":           {Type: "integer", Description: "За сколько дней до экзамена"},
					"reminder_time":           {Type: "string", Description: "Время напоминания HH:MM"},
					"auto_scheduling_enabled": {Type: "boolean", Description: "Автоматическое планирование"},
				},
			},
		},
		{
			Name:        "examtracker_sync_notifications",
			Description: "Синхронизировать напоминания с экзаменами сейчас.",
			InputSchema: noArgs,
		},
		{
			Name:        "examtracker_reset_notifications",
			Description: "Удалить и заново запланировать все напоминания.",
			InputSchema: noArgs,
		},
		{
			Name:        "examtracker_notification_status",
			Description: "Статус планировщика: число предстоящих экзаменов и запланированных напоминаний.",
			InputSchema: noArgs,
		},
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
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

	var result string
	var isError bool

	examPath := func() string {
		return "/api/exams/" + url.PathEscape(fmt.Sprintf("%v", params.Arguments["exam_id"]))
	}

	switch params.Name {
	case "examtracker_list_exams":
		result, isError = s.apiRequest(http.MethodGet, "/api/exams", nil)
	case "examtracker_list_upcoming":
		result, isError = s.apiRequest(http.MethodGet, "/api/exams/upcoming", nil)
	case "examtracker_add_exam":
		result, isError = s.apiRequest(http.MethodPost, "/api/exams", params.Arguments)
	case "examtracker_complete_exam":
		result, isError = s.apiRequest(http.MethodPost, examPath()+"/done", nil)
	case "examtracker_grade_exam":
		result, isError = s.apiRequest(http.MethodPut, examPath()+"/grade", map[string]interface{}{"grade": params.Arguments["grade"]})
	case "examtracker_delete_exam":
		result, isError = s.apiRequest(http.MethodDelete, examPath(), nil)
	case "examtracker_get_settings":
		result, isError = s.apiRequest(http.MethodGet, "/api/settings", nil)
	case "examtracker_update_settings":
		result, isError = s.apiRequest(http.MethodPut, "/api/settings", params.Arguments)
	case "examtracker_sync_notifications":
		result, isError = s.apiRequest(http.MethodPost, "/api/notifications/sync", nil)
	case "examtracker_reset_notifications":
		result, isError = s.apiRequest(http.MethodPost, "/api/notifications/reset", nil)
	case "examtracker_notification_status":
		result, isError = s.apiRequest(http.MethodGet, "/api/notifications/status", nil)
	default:
		result = "Unknown tool: " + params.Name
		isError = true
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("Error encoding request: %v", err), true
		}
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
		return strings.TrimSpace(string(respBody)), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}

func main() {
	NewMCPServer().Run(os.Stdin, os.Stdout)
}
