package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/jarvis-core/internal/fetch"
)

// WebSkills returns web_fetch and search_web over r.
func WebSkills(r *fetch.Reader) []*Skill {
	return []*Skill{
		{
			Name:        "web_fetch",
			Description: "Fetch a web page and return its readable text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":       map[string]any{"type": "string", "minLength": 1},
					"max_chars": map[string]any{"type": "integer", "minimum": 1},
				},
				"required": []string{"url"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				page, err := r.Fetch(ctx, stringArg(args, "url"), intArg(args, "max_chars", 0))
				if err != nil {
					return "", err
				}
				out, err := json.Marshal(page)
				if err != nil {
					return fmt.Sprintf("Title: %s\n\n%s", page.Title, page.Content), nil
				}
				return string(out), nil
			},
		},
		{
			Name:        "search_web",
			Description: "Search the web and return result titles and links.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "minLength": 1},
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 25},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				links, err := r.Search(ctx, stringArg(args, "query"), intArg(args, "limit", 8))
				if err != nil {
					return "", err
				}
				if len(links) == 0 {
					return "No results.", nil
				}
				var b strings.Builder
				for i, l := range links {
					fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, l.Title, l.URL)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
	}
}
