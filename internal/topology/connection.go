// Package topology implements the Connection Factory (C2, spec.md §4.6)
// and the sharded-cluster preconditions from spec.md §4.2: listing
// shards, checking the balancer, and picking which node within a
// replica set a reader should prefer.
package topology

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Endpoint names everything the Connection Factory needs to authenticate
// against one mongod/mongos, per spec.md §4.6.
type Endpoint struct {
	HostPort string
	AuthDB   string
	User     string
	Password string
	SlaveOK  bool
}

// Connect produces an authenticated connection to e. Connections are
// never shared across components (spec.md §4.6): every call to Connect
// returns a brand-new *mongo.Client, never a cached one.
//
// When e.SlaveOK, Connect first dials the seed list, ranks the replica
// set's members with NodePriority, and — if ranking succeeds — reconnects
// directly to the top-ranked node instead of leaving the choice to the
// driver's own PrimaryPreferred server selection. A node the ranking
// can't reach, or a standalone/unranked topology, just keeps the
// seed-list connection: the ranking is an optimization, never a
// precondition.
func Connect(ctx context.Context, e Endpoint) (*mongo.Client, error) {
	client, err := dial(ctx, e.HostPort, e, false)
	if err != nil {
		return nil, err
	}
	if !e.SlaveOK {
		return client, nil
	}

	preferred, err := preferredReadNode(ctx, client)
	if err != nil || preferred == "" {
		return client, nil
	}

	direct, err := dial(ctx, preferred, e, true)
	if err != nil {
		return client, nil
	}
	_ = client.Disconnect(ctx)
	return direct, nil
}

func dial(ctx context.Context, hostPort string, e Endpoint, direct bool) (*mongo.Client, error) {
	uri := "mongodb://" + hostPort

	opts := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
	if e.User != "" {
		opts.SetAuth(options.Credential{
			AuthSource: authSource(e),
			Username:   e.User,
			Password:   e.Password,
		})
	}
	switch {
	case direct:
		opts.SetDirect(true).SetReadPreference(readpref.PrimaryPreferred())
	case e.SlaveOK:
		opts.SetReadPreference(readpref.PrimaryPreferred())
	default:
		opts.SetReadPreference(readpref.Primary())
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", hostPort)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "ping %s", hostPort)
	}

	return client, nil
}

// preferredReadNode runs replSetGetStatus against an already-connected
// client, ranks the reporting replica set's members with NodePriority,
// and returns the top-ranked node's address, or "" if client isn't
// talking to a replica set member (e.g. a standalone, or a mongos).
func preferredReadNode(ctx context.Context, client *mongo.Client) (string, error) {
	var status struct {
		Set     string `bson:"set"`
		Members []struct {
			Name     string  `bson:"name"`
			StateStr string  `bson:"stateStr"`
			Hidden   bool    `bson:"hidden"`
			Health   float64 `bson:"health"`
		} `bson:"members"`
	}
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&status)
	if err != nil {
		return "", err
	}

	members := make([]ReplicaMember, 0, len(status.Members))
	for _, m := range status.Members {
		members = append(members, ReplicaMember{
			RS:      status.Set,
			Node:    m.Name,
			State:   m.StateStr,
			Hidden:  m.Hidden,
			Healthy: m.Health == 1,
		})
	}

	return Rank(members, nil).Preferred(status.Set), nil
}

func authSource(e Endpoint) string {
	if e.AuthDB != "" {
		return e.AuthDB
	}
	return "admin"
}
