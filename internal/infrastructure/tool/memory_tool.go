package tool

import (
	"context"
	"strings"

	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/memory"
)

// RegisterMemoryTools installs the long-term memory tools over the markdown
// store.
func RegisterMemoryTools(reg *domaintool.Registry, store *memory.Store) error {
	specs := []domaintool.Spec{
		{
			Name:        "memory_save",
			Description: "Save a long-term memory under a topic name. Overwrites the topic. Args: name, content.",
			Kind:        domaintool.KindThink,
			Tier:        1,
			Schema: objectSchema(map[string]interface{}{
				"name":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			}, "name", "content"),
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				name, err := argString(args, "name")
				if err != nil {
					return "", err
				}
				content, err := argString(args, "content")
				if err != nil {
					return "", err
				}
				if err := store.Save(name, content); err != nil {
					return "", err
				}
				return "remembered " + memory.Slugify(name), nil
			},
		},
		{
			Name:        "memory_read",
			Description: "Read a saved memory by topic name, or list all topics when name is omitted. Args: name (optional).",
			Kind:        domaintool.KindRead,
			Tier:        1,
			Schema: objectSchema(map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
			}),
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				if name, _ := args["name"].(string); name != "" {
					return store.Read(name)
				}
				slugs, err := store.List()
				if err != nil {
					return "", err
				}
				if len(slugs) == 0 {
					return "(no memories saved)", nil
				}
				return strings.Join(slugs, "\n"), nil
			},
		},
		{
			Name:        "memory_search",
			Description: "Search saved memories for a phrase. Args: query.",
			Kind:        domaintool.KindRead,
			Tier:        1,
			Schema: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			}, "query"),
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				query, err := argString(args, "query")
				if err != nil {
					return "", err
				}
				hits, err := store.Search(query)
				if err != nil {
					return "", err
				}
				if len(hits) == 0 {
					return "(no matches)", nil
				}
				return strings.Join(hits, "\n"), nil
			},
		},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
