package parse

import "time"

// ToolDetail is one tool invocation with its primary argument, in call order.
type ToolDetail struct {
	Tool     string `json:"tool"`
	Argument string `json:"argument,omitempty"`
}

// ToolResult describes the outcome of one tool invocation.
type ToolResult struct {
	ToolUseID     string `json:"toolUseId"`
	ToolName      string `json:"toolName,omitempty"`
	Success       bool   `json:"success"`
	ContentLength int    `json:"contentLength"`
	LineCount     int    `json:"lineCount,omitempty"`
	FilePath      string `json:"filePath,omitempty"`
}

// Interaction is one conversational turn: a user message paired with the
// assistant activity that followed it, or an orphaned assistant response
// when the session resumed after compaction.
//
// Every interaction has UserText or AssistantText/ThinkingText non-empty.
type Interaction struct {
	Timestamp        time.Time    `json:"timestamp"`
	UserText         string       `json:"userText,omitempty"`
	AssistantText    string       `json:"assistantText,omitempty"`
	ThinkingText     string       `json:"thinkingText,omitempty"`
	ToolsUsed        []string     `json:"toolsUsed,omitempty"`
	ToolDetails      []ToolDetail `json:"toolDetails,omitempty"`
	ToolResults      []ToolResult `json:"toolResults,omitempty"`
	ProgressEvents   []string     `json:"progressEvents,omitempty"`
	InPlanMode       bool         `json:"inPlanMode,omitempty"`
	SlashCommand     string       `json:"slashCommand,omitempty"`
	IsCompactSummary bool         `json:"isCompactSummary,omitempty"`
	IsContinuation   bool         `json:"isContinuation,omitempty"`
}

// Result is the outcome of one transcript parse.
type Result struct {
	Interactions []Interaction
	// TotalLines is the number of lines observed in the file, including
	// lines at or below the starting offset and malformed lines.
	TotalLines int
}
