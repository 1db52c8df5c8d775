//go:build integration

package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongoreplicate/mongoreplicate/internal/config"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/orchestrator"
	"github.com/mongoreplicate/mongoreplicate/internal/testutil/dockermongo"
)

// TestIntegration_EmptyCloneThenSteadyTail drives spec.md §8 Scenario S1
// end to end against real mongod containers: start a run against a
// source with no documents in d, insert one document on the source, and
// observe it replicate.
func TestIntegration_EmptyCloneThenSteadyTail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, err := dockermongo.Start(ctx, dockermongo.Options{ReplSet: "rs0"})
	if err != nil {
		t.Skipf("SKIP: no usable docker runtime: %v", err)
	}
	defer src.Stop(context.Background())

	dst, err := dockermongo.Start(ctx, dockermongo.Options{})
	if err != nil {
		t.Skipf("SKIP: no usable docker runtime: %v", err)
	}
	defer dst.Stop(context.Background())

	if err := log.Init(log.INFO, t.TempDir(), "orchestrator-integration"); err != nil {
		t.Fatalf("init log: %v", err)
	}

	opts := config.Options{
		SrcIPPort:   src.Addr,
		DstIPPort:   dst.Addr,
		DBs:         "d",
		BGThreadNum: 2,
		BatchSize:   100,
	}

	o := orchestrator.New(opts, log.NewEvent("test"))

	runCtx, runCancel := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(runCtx) }()

	srcClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+src.Addr))
	if err != nil {
		t.Fatalf("connect to source: %v", err)
	}
	defer srcClient.Disconnect(context.Background())

	dstClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+dst.Addr))
	if err != nil {
		t.Fatalf("connect to destination: %v", err)
	}
	defer dstClient.Disconnect(context.Background())

	coll := srcClient.Database("d").Collection("c")
	if _, err := coll.InsertOne(ctx, bson.D{{Key: "_id", Value: 1}, {Key: "v", Value: "a"}}); err != nil {
		t.Fatalf("insert on source: %v", err)
	}

	deadline := time.Now().Add(60 * time.Second)
	var got bson.M
	for time.Now().Before(deadline) {
		err := dstClient.Database("d").Collection("c").FindOne(ctx, bson.D{{Key: "_id", Value: 1}}).Decode(&got)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if got["v"] != "a" {
		t.Fatalf("expected destination to eventually hold {_id:1, v:\"a\"}, got %v", got)
	}

	runCancel()
	if err := <-runErr; err != nil {
		t.Fatalf("orchestrator.Run returned an error on clean cancellation: %v", err)
	}
}
