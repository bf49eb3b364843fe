package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/xviolet/violetmem/internal/interactions"
	"github.com/xviolet/violetmem/internal/retrieval"
	"github.com/xviolet/violetmem/internal/storage"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	FindSimilarText(ctx context.Context, text string, k int, f retrieval.Filter) ([]retrieval.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Searcher     MCPSearcher
	Interactions *interactions.Manager
	Notify       func() // optional; wakes the embedding worker after record_tweet
}

// NewMCPServer creates an MCP server with all violetmem tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"violetmem",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("violetmem — tweet memory for a persona bot: semantic recall, conversation threads, and interaction tracking."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_memory",
			mcp.WithDescription("Semantically search stored tweets and return the closest matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("conversation_id", mcp.Description("Restrict results to one conversation")),
			mcp.WithString("user_id", mcp.Description("Restrict results to one author")),
		),
		mcpSearchMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_conversation",
			mcp.WithDescription("Fetch a conversation thread with all stored tweets in chronological order."),
			mcp.WithString("id", mcp.Description("Conversation ID"), mcp.Required()),
		),
		mcpGetConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("record_tweet",
			mcp.WithDescription("Store a tweet into memory. Embedding happens asynchronously."),
			mcp.WithString("id", mcp.Description("Tweet ID"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Author's user ID"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Tweet text"), mcp.Required()),
			mcp.WithString("username", mcp.Description("Author's handle")),
			mcp.WithString("created_at", mcp.Description("RFC3339 timestamp (defaults to now)")),
			mcp.WithString("conversation_id", mcp.Description("Conversation the tweet belongs to")),
			mcp.WithString("in_reply_to", mcp.Description("ID of the tweet this replies to")),
		),
		mcpRecordTweet(deps),
	)

	s.AddTool(
		mcp.NewTool("check_interacted",
			mcp.WithDescription("Check whether the bot has already replied to or engaged with a tweet."),
			mcp.WithString("tweet_id", mcp.Description("Tweet ID"), mcp.Required()),
		),
		mcpCheckInteracted(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_interacted",
			mcp.WithDescription("Mark a tweet as engaged with so the bot does not reply twice."),
			mcp.WithString("tweet_id", mcp.Description("Tweet ID"), mcp.Required()),
		),
		mcpMarkInteracted(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"memory://stats",
			"Memory Stats",
			mcp.WithResourceDescription("Store counts and embedding dimension as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://unprocessed",
			"Unprocessed Tweets",
			mcp.WithResourceDescription("Oldest tweets still waiting for an embedding (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUnprocessed(deps),
	)

	return s
}

func mcpSearchMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		filter := retrieval.Filter{
			ConversationID: req.GetString("conversation_id", ""),
			UserID:         req.GetString("user_id", ""),
		}

		results, err := deps.Searcher.FindSimilarText(ctx, query, limit, filter)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID             string  `json:"id"`
			UserID         string  `json:"user_id"`
			Username       string  `json:"username,omitempty"`
			ConversationID string  `json:"conversation_id"`
			CreatedAt      string  `json:"created_at"`
			Text           string  `json:"text"`
			Distance       float32 `json:"distance"`
		}

		out := make([]matchResult, len(results))
		for i, res := range results {
			out[i] = matchResult{
				ID:             res.Tweet.ID,
				UserID:         res.Tweet.UserID,
				Username:       res.Tweet.Username,
				ConversationID: res.Tweet.ConversationID,
				CreatedAt:      res.Tweet.CreatedAt.Format(time.RFC3339),
				Text:           res.Tweet.Text,
				Distance:       res.Distance,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		conv, tweets, err := deps.Store.GetConversation(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get conversation: %v", err)), nil
		}

		b, err := json.Marshal(conversationResponse{Conversation: conv, Tweets: tweets})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversation: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpRecordTweet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		var createdAt time.Time
		if raw := req.GetString("created_at", ""); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid created_at: %v", err)), nil
			}
			createdAt = t
		}

		tweet := storage.Tweet{
			ID:             id,
			UserID:         userID,
			Username:       req.GetString("username", ""),
			CreatedAt:      createdAt,
			ConversationID: req.GetString("conversation_id", ""),
			InReplyTo:      req.GetString("in_reply_to", ""),
			Text:           text,
		}
		if err := deps.Store.RecordTweet(tweet); err != nil {
			return mcpError(fmt.Sprintf("failed to record: %v", err)), nil
		}

		if deps.Notify != nil {
			deps.Notify()
		}

		return mcpText(fmt.Sprintf("Recorded tweet %s", id)), nil
	}
}

func mcpCheckInteracted(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tweetID, err := req.RequireString("tweet_id")
		if err != nil {
			return mcpError("tweet_id is required"), nil
		}

		ok, err := deps.Interactions.Has(tweetID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to check interaction: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{"tweet_id": tweetID, "interacted": ok})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpMarkInteracted(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tweetID, err := req.RequireString("tweet_id")
		if err != nil {
			return mcpError("tweet_id is required"), nil
		}

		if err := deps.Interactions.Mark(tweetID); err != nil {
			return mcpError(fmt.Sprintf("failed to mark interaction: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Marked %s as interacted", tweetID)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Store.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}

		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceUnprocessed(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tweets, err := deps.Store.GetUnprocessed(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get unprocessed tweets: %w", err)
		}

		type tweetSummary struct {
			ID        string `json:"id"`
			UserID    string `json:"user_id"`
			CreatedAt string `json:"created_at"`
			Text      string `json:"text"`
		}

		summaries := make([]tweetSummary, len(tweets))
		for i, t := range tweets {
			text := t.Text
			if utf8.RuneCountInString(text) > 200 {
				runes := []rune(text)
				text = string(runes[:200]) + "..."
			}
			summaries[i] = tweetSummary{
				ID:        t.ID,
				UserID:    t.UserID,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
				Text:      text,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tweets: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
