package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

const (
	pollWait        = 25 * time.Second
	dispatchTimeout = 120 * time.Second
	staleAfter      = 2 * time.Minute
)

// Info is one registered node, as persisted in nodes.json.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Tools        []string  `json:"tools"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

type task struct {
	id     string
	tool   string
	args   map[string]interface{}
	result chan string
}

type nodeState struct {
	info  Info
	queue chan *task
}

// Server is the gateway side: it accepts node registrations and hands out
// tool tasks over long polls.
type Server struct {
	path   string // nodes.json
	logger *zap.Logger
	grpc   *grpc.Server

	mu      sync.Mutex
	nodes   map[string]*nodeState // by id
	byName  map[string]string     // name → id
	pending map[string]*task      // task id → in-flight task
}

func NewServer(statePath string, logger *zap.Logger) *Server {
	s := &Server{
		path:    statePath,
		logger:  logger,
		nodes:   make(map[string]*nodeState),
		byName:  make(map[string]string),
		pending: make(map[string]*task),
	}
	s.grpc = grpc.NewServer()
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks on the listener until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("node gateway listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Listen binds the address and serves in the caller's goroutine.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("node gateway listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

func (s *Server) Stop() { s.grpc.GracefulStop() }

// Register records the node and replies with its assigned id. Re-registering
// an existing name replaces the previous entry, so restarted nodes do not
// pile up.
func (s *Server) Register(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := fieldString(req, "name")
	if name == "" {
		return nil, apperrors.NewInvalidInputError("node name is required")
	}
	tools := fieldStrings(req, "tools")

	s.mu.Lock()
	if oldID, seen := s.byName[name]; seen {
		delete(s.nodes, oldID)
	}
	id := uuid.NewString()[:8]
	now := time.Now()
	s.nodes[id] = &nodeState{
		info:  Info{ID: id, Name: name, Tools: tools, RegisteredAt: now, LastSeen: now},
		queue: make(chan *task, 16),
	}
	s.byName[name] = id
	s.mu.Unlock()

	s.persist()
	s.logger.Info("node registered", zap.String("node", name), zap.Strings("tools", tools))
	return toStruct(map[string]interface{}{"node_id": id})
}

// Poll blocks until a task is available or the long-poll window closes.
func (s *Server) Poll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := fieldString(req, "node_id")
	s.mu.Lock()
	state, known := s.nodes[id]
	if known {
		state.info.LastSeen = time.Now()
	}
	s.mu.Unlock()
	if !known {
		return nil, apperrors.NewNotFoundError("unknown node id: " + id)
	}

	timer := time.NewTimer(pollWait)
	defer timer.Stop()
	select {
	case t := <-state.queue:
		return toStruct(map[string]interface{}{
			"task_id": t.id,
			"tool":    t.tool,
			"args":    t.args,
		})
	case <-timer.C:
		return toStruct(map[string]interface{}{})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Report delivers a task result back to the waiting dispatcher.
func (s *Server) Report(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	taskID := fieldString(req, "task_id")
	s.mu.Lock()
	t, waiting := s.pending[taskID]
	delete(s.pending, taskID)
	s.mu.Unlock()
	if !waiting {
		// The dispatcher gave up already; nothing to deliver.
		return toStruct(map[string]interface{}{"ok": false})
	}
	t.result <- fieldString(req, "output")
	return toStruct(map[string]interface{}{"ok": true})
}

// Dispatch sends one tool call to a named node and waits for its result.
func (s *Server) Dispatch(ctx context.Context, nodeName, tool string, args map[string]interface{}) (string, error) {
	s.mu.Lock()
	id, seen := s.byName[nodeName]
	state := s.nodes[id]
	s.mu.Unlock()
	if !seen || state == nil {
		return "", apperrors.NewNotFoundError("no node named " + nodeName)
	}

	t := &task{
		id:     uuid.NewString(),
		tool:   tool,
		args:   args,
		result: make(chan string, 1),
	}
	s.mu.Lock()
	s.pending[t.id] = t
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	select {
	case state.queue <- t:
	case <-ctx.Done():
		s.forget(t.id)
		return "", fmt.Errorf("node %s not accepting tasks: %w", nodeName, ctx.Err())
	}

	select {
	case out := <-t.result:
		return out, nil
	case <-ctx.Done():
		s.forget(t.id)
		return "", fmt.Errorf("node %s did not answer: %w", nodeName, ctx.Err())
	}
}

// Has reports whether a node with this name is registered and fresh.
func (s *Server) Has(nodeName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, seen := s.byName[nodeName]
	if !seen {
		return false
	}
	state := s.nodes[id]
	return state != nil && time.Since(state.info.LastSeen) < staleAfter
}

// List returns the registered nodes, sorted by name, for /status.
func (s *Server) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.nodes))
	for _, state := range s.nodes {
		out = append(out, state.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) forget(taskID string) {
	s.mu.Lock()
	delete(s.pending, taskID)
	s.mu.Unlock()
}

func (s *Server) persist() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.List(), "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("persist nodes.json failed", zap.Error(err))
	}
}
