// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import "strings"

// Conversation sanitization rewrites a turn list so it satisfies a target
// backend's structural contract: paired tool call/result references and
// strict role alternation. Functions return new slices; caller-owned history
// is never mutated, so the original conversation stays intact for display
// and for backends with different rules.

// TruncatedResultMarker is the content of a synthetic tool result appended
// for a call whose real result was truncated from history.
const TruncatedResultMarker = "[tool result truncated from history]"

// RepairToolPairs enforces 1:1 pairing between tool calls declared by
// assistant turns and tool-role result turns. Results whose call is gone
// (e.g. removed by upstream history truncation) are dropped; calls without a
// result get a synthetic result appended so providers requiring strict
// pairing never see an orphan.
func RepairToolPairs(turns []Turn) []Turn {
	callIDs := make(map[string]bool)
	resultIDs := make(map[string]bool)
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			for _, call := range t.ToolCalls {
				callIDs[call.ID] = true
			}
		case RoleTool:
			resultIDs[t.ToolCallID] = true
		}
	}

	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleTool && !callIDs[t.ToolCallID] {
			continue
		}
		out = append(out, t)
	}

	// Append synthetic results in conversation order of their calls.
	for _, t := range turns {
		if t.Role != RoleAssistant {
			continue
		}
		for _, call := range t.ToolCalls {
			if resultIDs[call.ID] {
				continue
			}
			out = append(out, Turn{
				Role:       RoleTool,
				Content:    TruncatedResultMarker,
				ToolCallID: call.ID,
			})
		}
	}

	return out
}

// MergeConsecutive collapses consecutive turns of the same role into one turn
// whose contents are joined by a blank line. Text is merged, never dropped.
// Tool calls and the image attachment of the first turn in a run are kept; a
// leading system turn participates like any other run, so a conversation with
// one system turn followed by alternating roles passes through unchanged.
func MergeConsecutive(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}

	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if len(out) == 0 || out[len(out)-1].Role != t.Role {
			out = append(out, t)
			continue
		}

		last := &out[len(out)-1]
		if t.Content != "" {
			if last.Content != "" {
				last.Content = last.Content + "\n\n" + t.Content
			} else {
				last.Content = t.Content
			}
		}
		if last.Image == nil {
			last.Image = t.Image
		}
		if len(t.ToolCalls) > 0 {
			// The merged turn gets its own backing array; appending in place
			// could write into the caller's spare capacity.
			merged := make([]ToolCall, 0, len(last.ToolCalls)+len(t.ToolCalls))
			merged = append(merged, last.ToolCalls...)
			merged = append(merged, t.ToolCalls...)
			last.ToolCalls = merged
		}
	}

	return out
}

// alternationRequired lists the families whose wire protocol rejects two
// consecutive turns of the same role.
var alternationRequired = map[Family]bool{
	FamilyGemini:    true,
	FamilyAnthropic: true,
}

// SanitizeForFamily prepares turns for transmission to the given backend
// family. Every family gets tool pairing repair; role-alternation merging is
// applied only where the family demands it. The input slice is not modified.
func SanitizeForFamily(family Family, turns []Turn) []Turn {
	out := RepairToolPairs(turns)
	if alternationRequired[family] {
		out = MergeConsecutive(out)
	}
	return out
}

// JoinContents concatenates the text of all turns, separated by blank lines.
// Used by tests and by adapters that flatten history into a single prompt.
func JoinContents(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Content != "" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
