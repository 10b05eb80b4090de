package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/msgdb/internal/daemon"
	"github.com/matheus3301/msgdb/internal/lock"
	"github.com/matheus3301/msgdb/internal/profile"
)

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "Show whether msgdbd is running and serving for the profile",
	Action: cmdStatus,
}

type statusOutput struct {
	Profile string `json:"profile"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Status  string `json:"status"`
}

func cmdStatus(ctx *cli.Context) error {
	name, err := profileName(ctx)
	if err != nil {
		return err
	}
	out := statusOutput{Profile: name, Status: healthpb.HealthCheckResponse_UNKNOWN.String()}
	if pid, ok := lock.Holder(profile.Dir(name)); ok {
		out.Running = true
		out.PID = pid
		out.Status = probe(ctx.Context, profile.SocketPath(name))
	}

	if ctx.Bool("json") {
		return printJSON(out)
	}
	fmt.Printf("Profile: %s\n", out.Profile)
	if out.Running {
		fmt.Printf("Daemon:  running (pid %d)\n", out.PID)
	} else {
		fmt.Println("Daemon:  stopped")
	}
	fmt.Printf("Health:  %s\n", out.Status)
	return nil
}

func probe(parent context.Context, socketPath string) string {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "UNREACHABLE"
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(parent, 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.ServiceName})
	if err != nil {
		return "UNREACHABLE"
	}
	return resp.GetStatus().String()
}
