package node

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
)

const reconnectDelay = 5 * time.Second

// Client is the node side: it registers the local tool executor with a
// remote gateway and serves its tool tasks.
type Client struct {
	name     string
	gateway  string
	executor service.ToolExecutor
	logger   *zap.Logger
}

func NewClient(name, gatewayAddr string, executor service.ToolExecutor, logger *zap.Logger) *Client {
	return &Client{name: name, gateway: gatewayAddr, executor: executor, logger: logger}
}

// Run connects and serves until the context is cancelled. Connection loss
// falls back to re-registration after a short delay.
func (c *Client) Run(ctx context.Context) error {
	conn, err := grpc.NewClient(c.gateway, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	for ctx.Err() == nil {
		nodeID, err := c.register(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("node registration failed, retrying",
				zap.String("gateway", c.gateway), zap.Error(err))
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
			}
			continue
		}
		c.logger.Info("node registered with gateway",
			zap.String("gateway", c.gateway), zap.String("node_id", nodeID))
		c.serve(ctx, conn, nodeID)
	}
	return ctx.Err()
}

func (c *Client) register(ctx context.Context, conn *grpc.ClientConn) (string, error) {
	defs := c.executor.Definitions()
	tools := make([]interface{}, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, def.Name)
	}
	req, err := toStruct(map[string]interface{}{"name": c.name, "tools": tools})
	if err != nil {
		return "", err
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, methodRegister, req, resp); err != nil {
		return "", err
	}
	return fieldString(resp, "node_id"), nil
}

// serve polls for tasks until the poll loop errors (gateway restart) or the
// context ends.
func (c *Client) serve(ctx context.Context, conn *grpc.ClientConn, nodeID string) {
	for ctx.Err() == nil {
		req, err := toStruct(map[string]interface{}{"node_id": nodeID})
		if err != nil {
			return
		}
		resp := new(structpb.Struct)
		if err := conn.Invoke(ctx, methodPoll, req, resp); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("node poll failed", zap.Error(err))
				select {
				case <-time.After(reconnectDelay):
				case <-ctx.Done():
				}
			}
			return
		}

		taskID := fieldString(resp, "task_id")
		if taskID == "" {
			continue // long poll expired, ask again
		}
		output := c.executor.Execute(ctx, entity.ToolCall{
			ID:        taskID,
			Name:      fieldString(resp, "tool"),
			Arguments: fieldMap(resp, "args"),
		}, "node:"+c.name, 3)

		report, err := toStruct(map[string]interface{}{"task_id": taskID, "output": output})
		if err != nil {
			continue
		}
		ack := new(structpb.Struct)
		if err := conn.Invoke(ctx, methodReport, report, ack); err != nil {
			c.logger.Warn("node report failed", zap.String("task", taskID), zap.Error(err))
		}
	}
}
