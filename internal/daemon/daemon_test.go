package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/msgdb/internal/bus"
	"github.com/matheus3301/msgdb/internal/config"
	"github.com/matheus3301/msgdb/internal/ingest"
	"github.com/matheus3301/msgdb/internal/status"
	"github.com/matheus3301/msgdb/internal/store"
)

// shortTempDir keeps unix socket paths under the platform length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "msgdb-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func servingStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.Status
}

func TestHealthFollowsLifecycle(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t), "h.sock")
	b := bus.New()
	machine := status.NewMachine(b)

	srv, err := NewServer(Params{SocketPath: socketPath}, machine, b, zap.NewNop())
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	c := healthClient(t, socketPath)
	require.Eventually(t, func() bool {
		return servingStatus(t, c, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	for _, s := range []status.State{status.Migrating, status.Loading, status.Ready} {
		require.NoError(t, machine.Transition(s))
	}
	require.Eventually(t, func() bool {
		return servingStatus(t, c, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, machine.Transition(status.Closing))
	require.Eventually(t, func() bool {
		return servingStatus(t, c, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

func TestModuleServesProfile(t *testing.T) {
	t.Setenv("MSGDB_HOME", shortTempDir(t))

	cfg := config.Default()
	cfg.Store.SelfRecipientID = 1
	cfg.Log.Level = "error"

	var (
		b       *bus.Bus
		db      *store.DB
		machine *status.Machine
	)
	app := fxtest.New(t,
		Module(Params{ProfileName: "t", Config: cfg}),
		fx.Populate(&b, &db, &machine),
	)
	app.RequireStart()

	assert.Equal(t, status.Ready, machine.Current())

	b.Publish(bus.NewEvent(ingest.EventMessage, time.Now(), ingest.Message{
		Incoming: store.IncomingMessage{From: 10, Body: "through the daemon", SentAt: 1, ReceivedAt: 1},
	}))
	require.Eventually(t, func() bool {
		th, err := db.Threads().GetByRecipient(context.Background(), 10)
		return err == nil && th != nil && th.Snippet == "through the daemon"
	}, 2*time.Second, 10*time.Millisecond)

	app.RequireStop()
	assert.Equal(t, status.Closed, machine.Current())
}
