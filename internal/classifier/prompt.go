package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You sort desktop files into folders. Answer with JSON only."

// categoryResult is the JSON answer expected from chat backends
type categoryResult struct {
	Category string `json:"category"`
}

func buildPrompt(content string, known []string) string {
	var sb strings.Builder

	sb.WriteString("Pick a folder name for this document. Return JSON only.\n\n")
	sb.WriteString("Content:\n")
	sb.WriteString(content)
	sb.WriteString("\n\n")

	if len(known) > 0 {
		sb.WriteString("Existing folders (reuse one when it fits):\n")
		for _, c := range known {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Existing folders: none\n\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{"category": "Folder Name"}

Rules:
- One short, general folder name (1-3 words), e.g. "Invoices", "Recipes", "Travel"
- Reuse an existing folder when the document belongs there; otherwise suggest a new one
- No slashes or file extensions

Return ONLY the JSON, no other text.`)

	return sb.String()
}

func parseResponse(resp string) (string, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var result categoryResult
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return "", fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}
	if strings.TrimSpace(result.Category) == "" {
		return "", fmt.Errorf("no category in response: %s", resp)
	}

	return result.Category, nil
}
