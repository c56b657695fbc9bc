package mcpclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ImageSaver persists an image payload and returns where it landed. Used by
// CollapseContentWith to swap inline base64 blobs for file paths.
type ImageSaver interface {
	SaveBase64(data, mimeType string) (string, error)
}

// CollapseContent flattens the content parts of a tool result into a value
// the LLM runtime can consume directly:
//
//   - text parts are concatenated with a blank line between them
//   - image parts are replaced with an "[Image: ...]" marker
//   - any other part is JSON-stringified
//   - a result with exactly one text part collapses to that string
//   - a result with no parts yields the raw content slice
func CollapseContent(result *mcp.CallToolResult) interface{} {
	return CollapseContentWith(result, nil)
}

// CollapseContentWith is CollapseContent with an optional image saver: when
// one is supplied, image payloads are persisted and the marker carries the
// file path instead of discarding the data.
func CollapseContentWith(result *mcp.CallToolResult, saver ImageSaver) interface{} {
	if result == nil {
		return nil
	}

	var parts []string
	textOnly := true

	for _, item := range result.Content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			parts = append(parts, imageMarker(c, saver))
			textOnly = false
		default:
			data, err := json.Marshal(item)
			if err != nil {
				parts = append(parts, fmt.Sprintf("%v", item))
			} else {
				parts = append(parts, string(data))
			}
			textOnly = false
		}
	}

	if len(parts) == 0 {
		return result.Content
	}
	if len(parts) == 1 && textOnly {
		return parts[0]
	}
	return strings.Join(parts, "\n\n")
}

// imageMarker renders an image part: a path marker when persistence is
// available and succeeds, a MIME marker otherwise.
func imageMarker(c mcp.ImageContent, saver ImageSaver) string {
	if saver != nil {
		if path, err := saver.SaveBase64(c.Data, c.MIMEType); err == nil {
			return fmt.Sprintf("[Image saved to %s]", path)
		}
	}
	return fmt.Sprintf("[Image: %s]", c.MIMEType)
}

// StringifyContent renders the content parts as one string, used when an
// isError result needs a message.
func StringifyContent(result *mcp.CallToolResult) string {
	collapsed := CollapseContent(result)
	if s, ok := collapsed.(string); ok {
		return s
	}
	data, err := json.Marshal(collapsed)
	if err != nil {
		return fmt.Sprintf("%v", collapsed)
	}
	return string(data)
}
