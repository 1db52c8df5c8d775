package topology

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Shard is the shard descriptor from spec.md §3: an identifier and the
// connection string of that shard's replica set. The tailer and cloner
// always dial this directly, never through the router (spec.md §3
// invariant).
type Shard struct {
	ID   string `bson:"_id"`
	Host string `bson:"host"`
}

// ListShards enumerates config.shards through router. Only valid when
// router is connected to a mongos (spec.md §4.2 "When the source is a
// router").
func ListShards(ctx context.Context, router *mongo.Client) ([]Shard, error) {
	cur, err := router.Database("config").Collection("shards").Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "find config.shards")
	}
	defer cur.Close(ctx)

	var shards []Shard
	if err := cur.All(ctx, &shards); err != nil {
		return nil, errors.Wrap(err, "decode config.shards")
	}
	return shards, nil
}

// IsBalancerRunning implements the spec.md §4.2 precondition: "verify
// the balancer is NOT running -- if it is, abort with a fatal error".
// "Running" here means enabled (mode != "off"), not merely mid-round:
// a balancer sitting between migration rounds (inBalancerRound=false)
// can start moving chunks again at any moment, which is exactly the
// mid-clone chunk movement this precondition exists to rule out.
func IsBalancerRunning(ctx context.Context, router *mongo.Client) (bool, error) {
	var res struct {
		Mode string `bson:"mode"`
	}
	err := router.Database("admin").RunCommand(ctx, bson.D{{Key: "balancerStatus", Value: 1}}).Decode(&res)
	if err != nil {
		return false, errors.Wrap(err, "run balancerStatus")
	}
	return res.Mode != "off", nil
}
