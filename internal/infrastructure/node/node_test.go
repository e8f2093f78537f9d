package node

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, call entity.ToolCall, _ string, _ int) string {
	cmd, _ := call.Arguments["command"].(string)
	return "ran " + call.Name + ": " + cmd
}

func (echoExecutor) Definitions() []entity.ToolDefinition {
	return []entity.ToolDefinition{{Name: "exec", Description: "run a command"}}
}

func (echoExecutor) Has(name string) bool { return name == "exec" }

func startPair(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer("", zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{name: "laptop", executor: echoExecutor{}, logger: zap.NewNop()}
	go func() {
		for ctx.Err() == nil {
			nodeID, err := client.register(ctx, conn)
			if err != nil {
				return
			}
			client.serve(ctx, conn, nodeID)
		}
	}()
	return srv, cancel
}

func TestDispatchRoundTrip(t *testing.T) {
	srv, cancel := startPair(t)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.Has("laptop") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !srv.Has("laptop") {
		t.Fatal("node never registered")
	}

	out, err := srv.Dispatch(context.Background(), "laptop", "exec",
		map[string]interface{}{"command": "uname -a"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ran exec: uname -a" {
		t.Errorf("out = %q", out)
	}
}

func TestDispatchUnknownNode(t *testing.T) {
	srv := NewServer("", zap.NewNop())
	if _, err := srv.Dispatch(context.Background(), "ghost", "exec", nil); err == nil {
		t.Error("dispatch to unknown node succeeded")
	}
}

func TestReRegisterReplacesNode(t *testing.T) {
	srv := NewServer("", zap.NewNop())
	first, err := srv.Register(context.Background(), mustStruct(t, map[string]interface{}{
		"name": "laptop", "tools": []interface{}{"exec"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	second, err := srv.Register(context.Background(), mustStruct(t, map[string]interface{}{
		"name": "laptop", "tools": []interface{}{"exec", "read_file"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if fieldString(first, "node_id") == fieldString(second, "node_id") {
		t.Error("re-registration kept the old id")
	}
	nodes := srv.List()
	if len(nodes) != 1 || len(nodes[0].Tools) != 2 {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestRegisterRequiresName(t *testing.T) {
	srv := NewServer("", zap.NewNop())
	if _, err := srv.Register(context.Background(), mustStruct(t, map[string]interface{}{})); err == nil {
		t.Error("nameless registration accepted")
	}
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := toStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
