package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

const recentAlertsLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store         *storage.Store
	Profiles      *profile.Manager
	Pipeline      *pipeline.Personalizer
	AssessTimeout time.Duration
}

// NewMCPServer creates an MCP server exposing risk assessment tools and
// the recent alerts resource.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"vitalsignal",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vitalsignal scores disease-outbreak alerts against stored user health profiles."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("assess_risk",
			mcp.WithDescription("Assess an outbreak alert for one user and return the personalized risk assessment."),
			mcp.WithString("user_id", mcp.Description("ID of a stored user profile"), mcp.Required()),
			mcp.WithString("alert_json", mcp.Description("Alert as a JSON object with at least disease and location"), mcp.Required()),
		),
		mcpAssessRisk(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record a user's feedback on an alert; adjusts how strongly that disease is weighted for them."),
			mcp.WithString("user_id", mcp.Description("ID of the user giving feedback"), mcp.Required()),
			mcp.WithString("alert_id", mcp.Description("ID of the assessed alert"), mcp.Required()),
			mcp.WithString("feedback_type",
				mcp.Description("Verdict on the assessment"),
				mcp.Enum(
					string(profile.FeedbackHelpful),
					string(profile.FeedbackNotHelpful),
					string(profile.FeedbackTooSensitive),
					string(profile.FeedbackNotSensitiveEnough),
					string(profile.FeedbackFalsePositive),
				),
				mcp.Required(),
			),
			mcp.WithString("comment", mcp.Description("Optional free-text comment")),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("list_users",
			mcp.WithDescription("List stored users with their IDs and home locations."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of users (default 50)")),
		),
		mcpListUsers(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"alerts://recent",
			"Recent Alerts",
			mcp.WithResourceDescription("Last 10 stored outbreak alerts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentAlerts(deps),
	)

	return s
}

func mcpAssessRisk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		alertJSON, err := req.RequireString("alert_json")
		if err != nil {
			return mcpError("alert_json is required"), nil
		}

		var alert risk.Alert
		if err := json.Unmarshal([]byte(alertJSON), &alert); err != nil {
			return mcpError(fmt.Sprintf("invalid alert JSON: %v", err)), nil
		}

		timeout := deps.AssessTimeout
		if timeout <= 0 {
			timeout = defaultAssessTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := deps.Pipeline.Personalize(ctx, userID, alert)
		if err != nil {
			return mcpError(fmt.Sprintf("assessment failed: %v", err)), nil
		}

		b, err := json.Marshal(res.Assessment)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal assessment: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	fr := feedbackRecorder{store: deps.Store, profiles: deps.Profiles, pipeline: deps.Pipeline}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		alertID, err := req.RequireString("alert_id")
		if err != nil {
			return mcpError("alert_id is required"), nil
		}
		ft, err := req.RequireString("feedback_type")
		if err != nil {
			return mcpError("feedback_type is required"), nil
		}

		res, err := fr.record(FeedbackRequest{
			UserID:       userID,
			AlertID:      alertID,
			FeedbackType: ft,
			Comment:      req.GetString("comment", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded %s feedback; %s weight for %s is now %.2f",
			res.FeedbackType, res.Disease, res.UserID, res.LearnedWeight)), nil
	}
}

func mcpListUsers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}
		if limit > 500 {
			limit = 500
		}

		users, err := deps.Profiles.List(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list users: %v", err)), nil
		}

		type userSummary struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Location string `json:"location"`
		}
		out := make([]userSummary, len(users))
		for i, u := range users {
			out[i] = userSummary{ID: u.ID, Name: u.Name, Location: u.Location.Name}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal users: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentAlerts(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.Store.ListAlerts(recentAlertsLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list alerts: %w", err)
		}

		type alertSummary struct {
			ID          string `json:"id"`
			Disease     string `json:"disease"`
			Severity    string `json:"severity"`
			Location    string `json:"location"`
			PublishedAt string `json:"published_at"`
		}
		summaries := make([]alertSummary, len(recs))
		for i, rec := range recs {
			summaries[i] = alertSummary{
				ID:          rec.ID,
				Disease:     rec.Disease,
				Severity:    rec.Severity,
				Location:    rec.Location,
				PublishedAt: rec.PublishedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alerts: %w", err)
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
