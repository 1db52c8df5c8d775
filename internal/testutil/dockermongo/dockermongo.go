// Package dockermongo spins up disposable mongod containers for
// integration tests, using the same github.com/docker/docker client the
// teacher carries in go.mod for its own e2e harness. Nothing in the
// replication pipeline imports this package; its caller is the
// integration-tagged orchestrator test
// (internal/orchestrator/orchestrator_integration_test.go), which needs
// real servers rather than mocked ones.
package dockermongo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultImage = "mongo:6.0"

// Server is a running mongod container reachable at Addr.
type Server struct {
	Addr string

	cli         *client.Client
	containerID string
}

// Options configures the container Start launches.
type Options struct {
	Image     string // defaults to "mongo:6.0"
	HostPort  string // e.g. "27117"; empty lets Docker assign one
	ReplSet   string // when set, mongod starts with --replSet
}

// Start pulls Image (if needed) and runs it detached, waiting until the
// server accepts connections or ctx is cancelled.
func Start(ctx context.Context, opts Options) (*Server, error) {
	if opts.Image == "" {
		opts.Image = defaultImage
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}

	if err := pullIfMissing(ctx, cli, opts.Image); err != nil {
		return nil, err
	}

	cmd := []string{"mongod", "--bind_ip_all"}
	if opts.ReplSet != "" {
		cmd = append(cmd, "--replSet", opts.ReplSet)
	}

	hostPort := opts.HostPort

	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image: opts.Image,
			Cmd:   cmd,
		},
		&container.HostConfig{
			PublishAllPorts: hostPort == "",
			AutoRemove:      true,
		},
		nil, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "create container")
	}

	if err := cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return nil, errors.Wrap(err, "start container")
	}

	addr, err := resolveAddr(ctx, cli, created.ID, hostPort)
	if err != nil {
		_ = cli.ContainerRemove(ctx, created.ID, types.ContainerRemoveOptions{Force: true})
		return nil, err
	}

	s := &Server{Addr: addr, cli: cli, containerID: created.ID}
	if err := s.waitReady(ctx); err != nil {
		s.Stop(context.Background())
		return nil, err
	}

	if opts.ReplSet != "" {
		if err := s.initiateReplSet(ctx, opts.ReplSet); err != nil {
			s.Stop(context.Background())
			return nil, err
		}
	}

	return s, nil
}

// initiateReplSet runs replSetInitiate with a single-member config whose
// host is Addr (the host-mapped address, not the container's internal
// one) so the member is reachable the same way test callers reach it,
// then waits for that member to become primary: local.oplog.rs, which
// the tailer reads, only exists once replication is active.
func (s *Server) initiateReplSet(ctx context.Context, rs string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+s.Addr))
	if err != nil {
		return errors.Wrap(err, "connect for replSetInitiate")
	}
	defer client.Disconnect(context.Background())

	cfg := bson.M{
		"_id":     rs,
		"members": []bson.M{{"_id": 0, "host": s.Addr}},
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: cfg}}).Err(); err != nil {
		return errors.Wrap(err, "replSetInitiate")
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var res bson.M
		err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).Decode(&res)
		if err == nil {
			if isMaster, _ := res["ismaster"].(bool); isMaster {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return errors.Errorf("replica set %s on %s did not elect a primary in time", rs, s.Addr)
}

// Stop removes the container. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) {
	if s == nil || s.cli == nil {
		return
	}
	_ = s.cli.ContainerRemove(ctx, s.containerID, types.ContainerRemoveOptions{Force: true})
}

func (s *Server) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		logs, err := s.cli.ContainerLogs(ctx, s.containerID, types.ContainerLogsOptions{ShowStdout: true})
		if err == nil {
			buf, _ := io.ReadAll(logs)
			logs.Close()
			if containsReady(buf) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return errors.Errorf("mongod in container %s did not become ready in time", s.containerID)
}

func containsReady(buf []byte) bool {
	const marker = "Waiting for connections"
	for i := 0; i+len(marker) <= len(buf); i++ {
		if string(buf[i:i+len(marker)]) == marker {
			return true
		}
	}
	return false
}

func pullIfMissing(ctx context.Context, cli *client.Client, image string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	rc, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull %s", image)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return errors.Wrapf(err, "pull %s", image)
}

func resolveAddr(ctx context.Context, cli *client.Client, id, hostPort string) (string, error) {
	if hostPort != "" {
		return fmt.Sprintf("127.0.0.1:%s", hostPort), nil
	}
	inspect, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", errors.Wrap(err, "inspect container")
	}
	for _, bindings := range inspect.NetworkSettings.Ports {
		for _, b := range bindings {
			return fmt.Sprintf("127.0.0.1:%s", b.HostPort), nil
		}
	}
	return "", errors.Errorf("container %s published no ports", id)
}
