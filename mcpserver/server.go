// Package mcpserver exposes the mindflow to-do store as an MCP tool
// surface over stateless streamable HTTP. Authentication is not this
// package's concern; the HTTP handler sits behind the bearer-token
// gate in the root package.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mindflow-app/mcp-auth/todo"
)

const (
	serverName    = "mindflow"
	serverVersion = "0.1.0"
)

// New creates the MCP server with all mindflow tools registered
// against the given store.
func New(store *todo.Store) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	registerTools(server, store)
	return server
}

// Handler returns the stateless streamable HTTP handler for the MCP
// server. Every request gets a fresh protocol session over the shared
// store; there is no session state to resume or delete.
func Handler(store *todo.Store) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return New(store) },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

type listTodosInput struct {
	CategoryID       string `json:"categoryId" jsonschema:"Category ID"`
	IncludeCompleted bool   `json:"includeCompleted,omitempty" jsonschema:"Include completed items"`
}

type getTodoInput struct {
	Identifier string `json:"identifier" jsonschema:"Short ID like '#42' or a UUID"`
}

type createTodoInput struct {
	Title       string `json:"title" jsonschema:"Todo title"`
	CategoryID  string `json:"categoryId" jsonschema:"Category ID"`
	Description string `json:"description,omitempty" jsonschema:"Optional description"`
	Priority    string `json:"priority,omitempty" jsonschema:"One of NONE, LOW, MEDIUM, HIGH"`
	DueDate     string `json:"dueDate,omitempty" jsonschema:"Due date in ISO format"`
	ParentID    string `json:"parentId,omitempty" jsonschema:"Parent todo ID for subtask"`
}

type updateTodoInput struct {
	ID          string  `json:"id" jsonschema:"Todo ID or short ID like '#42'"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" jsonschema:"One of NONE, LOW, MEDIUM, HIGH"`
	DueDate     *string `json:"dueDate,omitempty" jsonschema:"ISO date, or an empty string to clear"`
}

type completeTodoInput struct {
	ID        string `json:"id" jsonschema:"Todo ID or short ID like '#42'"`
	Completed *bool  `json:"completed,omitempty" jsonschema:"Defaults to true"`
}

type deleteTodoInput struct {
	ID string `json:"id" jsonschema:"Todo ID or short ID like '#42'"`
}

type createCategoryInput struct {
	Name  string `json:"name" jsonschema:"Category name"`
	Color string `json:"color,omitempty" jsonschema:"Hex color"`
}

type searchTodosInput struct {
	Query string `json:"query" jsonschema:"Search query"`
}

type emptyInput struct{}

func registerTools(server *mcp.Server, store *todo.Store) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_categories",
		Description: "List all categories with item counts",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
		type entry struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Color     string `json:"color"`
			ItemCount int    `json:"itemCount"`
		}
		categories := store.Categories()
		out := make([]entry, 0, len(categories))
		for _, c := range categories {
			out = append(out, entry{ID: c.ID, Name: c.Name, Color: c.Color, ItemCount: store.CountItems(c.ID, false)})
		}
		return textResult(out)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_todos",
		Description: "List todo items in a category, optionally with subtasks",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in listTodosInput) (*mcp.CallToolResult, any, error) {
		items := store.Items(in.CategoryID, in.IncludeCompleted)
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			entry := map[string]any{
				"id":          it.ID,
				"shortId":     shortRef(it.ShortID),
				"title":       it.Title,
				"description": it.Description,
				"completed":   it.Completed,
				"priority":    it.Priority,
				"depth":       it.Depth,
				"parentId":    it.ParentID,
			}
			if it.DueDate != nil {
				entry["dueDate"] = it.DueDate.Format(time.RFC3339)
			}
			out = append(out, entry)
		}
		return textResult(out)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_todo",
		Description: "Get a specific todo by short ID (e.g. #42) or UUID",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in getTodoInput) (*mcp.CallToolResult, any, error) {
		it, err := store.Get(in.Identifier)
		if err != nil {
			return notFoundResult()
		}

		type subtask struct {
			ShortID   string `json:"shortId"`
			Title     string `json:"title"`
			Completed bool   `json:"completed"`
		}
		subs := store.Subtasks(it.ID)
		subtasks := make([]subtask, 0, len(subs))
		for _, s := range subs {
			subtasks = append(subtasks, subtask{ShortID: shortRef(s.ShortID), Title: s.Title, Completed: s.Completed})
		}

		out := map[string]any{
			"id":          it.ID,
			"shortId":     shortRef(it.ShortID),
			"title":       it.Title,
			"description": it.Description,
			"completed":   it.Completed,
			"priority":    it.Priority,
			"category":    store.CategoryName(it.CategoryID),
			"subtasks":    subtasks,
		}
		if it.DueDate != nil {
			out["dueDate"] = it.DueDate.Format(time.RFC3339)
		}
		return textResult(out)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_todo",
		Description: "Create a new todo item in a category",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in createTodoInput) (*mcp.CallToolResult, any, error) {
		params := todo.CreateItemParams{
			Title:       in.Title,
			CategoryID:  in.CategoryID,
			Description: in.Description,
			Priority:    todo.Priority(in.Priority),
			ParentID:    in.ParentID,
		}
		if in.DueDate != "" {
			due, err := time.Parse(time.RFC3339, in.DueDate)
			if err != nil {
				return errorResult(fmt.Sprintf("invalid dueDate: %v", err))
			}
			params.DueDate = &due
		}

		it, err := store.CreateItem(params)
		if err != nil {
			return errorResult(err.Error())
		}
		return textResult(map[string]any{
			"id":      it.ID,
			"shortId": shortRef(it.ShortID),
			"title":   it.Title,
		})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_todo",
		Description: "Update a todo item's title, description, priority, or due date",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in updateTodoInput) (*mcp.CallToolResult, any, error) {
		params := todo.UpdateItemParams{
			Title:       in.Title,
			Description: in.Description,
		}
		if in.Priority != nil {
			p := todo.Priority(*in.Priority)
			params.Priority = &p
		}
		if in.DueDate != nil {
			if *in.DueDate == "" {
				params.ClearDueDate = true
			} else {
				due, err := time.Parse(time.RFC3339, *in.DueDate)
				if err != nil {
					return errorResult(fmt.Sprintf("invalid dueDate: %v", err))
				}
				params.DueDate = &due
			}
		}

		it, err := store.Update(in.ID, params)
		if err != nil {
			return notFoundResult()
		}
		return textResult(map[string]any{
			"id":      it.ID,
			"shortId": shortRef(it.ShortID),
			"title":   it.Title,
			"updated": true,
		})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_todo",
		Description: "Mark a todo item as complete or incomplete",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in completeTodoInput) (*mcp.CallToolResult, any, error) {
		completed := true
		if in.Completed != nil {
			completed = *in.Completed
		}

		it, err := store.SetCompleted(in.ID, completed)
		if err != nil {
			return notFoundResult()
		}
		return textResult(map[string]any{
			"shortId":   shortRef(it.ShortID),
			"title":     it.Title,
			"completed": it.Completed,
		})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_todo",
		Description: "Delete a todo item",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in deleteTodoInput) (*mcp.CallToolResult, any, error) {
		if err := store.Delete(in.ID); err != nil {
			return notFoundResult()
		}
		return textResult(map[string]any{"deleted": true})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_category",
		Description: "Create a new category",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in createCategoryInput) (*mcp.CallToolResult, any, error) {
		c := store.CreateCategory(in.Name, in.Color)
		return textResult(map[string]any{"id": c.ID, "name": c.Name})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_todos",
		Description: "Search todos across all categories",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in searchTodosInput) (*mcp.CallToolResult, any, error) {
		items := store.Search(in.Query, 20)
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			out = append(out, map[string]any{
				"shortId":   shortRef(it.ShortID),
				"title":     it.Title,
				"category":  store.CategoryName(it.CategoryID),
				"completed": it.Completed,
				"priority":  it.Priority,
			})
		}
		return textResult(out)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_daily_summary",
		Description: "Get a summary of today's priorities across all categories",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
		sum := store.DailySummary(time.Now())

		brief := func(items []todo.Item) []map[string]any {
			out := make([]map[string]any, 0, len(items))
			for _, it := range items {
				out = append(out, map[string]any{
					"shortId":  shortRef(it.ShortID),
					"title":    it.Title,
					"category": store.CategoryName(it.CategoryID),
				})
			}
			return out
		}

		categorySummary := make([]map[string]any, 0, len(sum.Categories))
		for _, c := range sum.Categories {
			categorySummary = append(categorySummary, map[string]any{
				"name":        c.Name,
				"activeItems": c.ActiveItems,
			})
		}

		return textResult(map[string]any{
			"totalActive":     sum.TotalActive,
			"dueToday":        brief(sum.DueToday),
			"highPriority":    brief(sum.HighPriority),
			"categorySummary": categorySummary,
		})
	})
}

func shortRef(shortID int) string {
	return fmt.Sprintf("#%d", shortID)
}

// textResult marshals v as indented JSON into a single text content
// block, the shape all mindflow tools reply with.
func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(message string) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}, nil, nil
}

func notFoundResult() (*mcp.CallToolResult, any, error) {
	return errorResult("Todo not found")
}
