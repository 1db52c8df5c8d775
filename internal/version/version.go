// Package version implements the SPEC_FULL.md §4.2 startup precondition
// that source and destination MongoDB wire versions fall within a
// configured minimum supported skew, using golang.org/x/mod/semver for
// the comparison (a teacher go.mod dependency with no other home in this
// rewrite).
package version

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/mod/semver"
)

// Pair records the versions observed at INIT, as checked by CheckSkew.
type Pair struct {
	Source string
	Dest   string
}

// Fetch runs buildInfo against client and returns its reported version
// string (e.g. "6.0.5").
func Fetch(ctx context.Context, client *mongo.Client) (string, error) {
	var res struct {
		Version string `bson:"version"`
	}
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&res)
	if err != nil {
		return "", errors.Wrap(err, "run buildInfo")
	}
	return res.Version, nil
}

// canon turns a bare "6.0.5" into the "v6.0.5" semver requires.
func canon(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return v
}

// CheckSkew enforces that both source and dest are at least minSkew
// (e.g. "4.2"); an empty minSkew disables the check entirely (the
// default: "permits any pair the driver can reach", per SPEC_FULL.md
// §6). Returns a Topology precondition violation error (spec.md §7) on
// failure.
func CheckSkew(pair Pair, minSkew string) error {
	if minSkew == "" {
		return nil
	}
	min := canon(minSkew)
	if !semver.IsValid(min) {
		return errors.Errorf("min_version_skew %q is not a valid version", minSkew)
	}

	for _, v := range []struct {
		name, value string
	}{{"source", pair.Source}, {"destination", pair.Dest}} {
		cv := canon(v.value)
		if !semver.IsValid(cv) {
			return errors.Errorf("%s reported an unparseable version %q", v.name, v.value)
		}
		if semver.Compare(cv, min) < 0 {
			return errors.Errorf("%s version %s is below the configured minimum %s", v.name, v.value, minSkew)
		}
	}
	return nil
}
