package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/salmalm/salmalm/internal/domain/service"
	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
)

// RegisterSubAgentTool lets the model delegate work to background agents.
// The session id of the calling turn is threaded through ctx by the
// executor caller; here the parent is passed explicitly as an argument the
// loop fills in via the "parent" arg default.
func RegisterSubAgentTool(reg *domaintool.Registry, mgr *service.SubAgentManager) error {
	return reg.Register(domaintool.Spec{
		Name: "subagent",
		Description: "Manage background agents. action=spawn starts a new agent on a task; " +
			"list shows all agents; status/log inspect one; steer sends a mid-run message; stop cancels. " +
			"Args: action, task (spawn), id (status/log/steer/stop), message (steer), model (optional).",
		Kind: domaintool.KindThink,
		Tier: 2,
		Schema: objectSchema(map[string]interface{}{
			"action":  map[string]interface{}{"type": "string", "enum": []string{"spawn", "list", "status", "log", "steer", "stop"}},
			"task":    map[string]interface{}{"type": "string"},
			"id":      map[string]interface{}{"type": "string"},
			"message": map[string]interface{}{"type": "string"},
			"model":   map[string]interface{}{"type": "string"},
			"parent":  map[string]interface{}{"type": "string"},
		}, "action"),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			action, err := argString(args, "action")
			if err != nil {
				return "", err
			}
			switch action {
			case "spawn":
				task, err := argString(args, "task")
				if err != nil {
					return "", err
				}
				model, _ := args["model"].(string)
				parent, _ := args["parent"].(string)
				id, err := mgr.Spawn(parent, task, model)
				if err != nil {
					return "", err
				}
				return "spawned agent " + id, nil
			case "list":
				jobs := mgr.List()
				if len(jobs) == 0 {
					return "(no agents)", nil
				}
				lines := make([]string, 0, len(jobs))
				for _, j := range jobs {
					task := j.Task
					if len(task) > 60 {
						task = task[:60] + "…"
					}
					lines = append(lines, fmt.Sprintf("%s [%s] %s", j.ID, j.Status, task))
				}
				return strings.Join(lines, "\n"), nil
			case "status":
				id, err := argString(args, "id")
				if err != nil {
					return "", err
				}
				j, err := mgr.Get(id)
				if err != nil {
					return "", err
				}
				if j.Error != "" {
					return fmt.Sprintf("%s [%s] error: %s", j.ID, j.Status, j.Error), nil
				}
				if j.Result != "" {
					return fmt.Sprintf("%s [%s]\n%s", j.ID, j.Status, j.Result), nil
				}
				return fmt.Sprintf("%s [%s]", j.ID, j.Status), nil
			case "log":
				id, err := argString(args, "id")
				if err != nil {
					return "", err
				}
				lines, err := mgr.Log(ctx, id, 20)
				if err != nil {
					return "", err
				}
				return strings.Join(lines, "\n"), nil
			case "steer":
				id, err := argString(args, "id")
				if err != nil {
					return "", err
				}
				message, err := argString(args, "message")
				if err != nil {
					return "", err
				}
				if err := mgr.Steer(id, message); err != nil {
					return "", err
				}
				return "steered agent " + id, nil
			case "stop":
				id, err := argString(args, "id")
				if err != nil {
					return "", err
				}
				if err := mgr.Stop(id); err != nil {
					return "", err
				}
				return "stopped agent " + id, nil
			default:
				return "", fmt.Errorf("unknown action %q", action)
			}
		},
	})
}
