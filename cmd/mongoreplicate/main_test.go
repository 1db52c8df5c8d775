package main

import (
	"reflect"
	"testing"
)

func TestStripConfigFlagExtractsSeparateValue(t *testing.T) {
	path, rest := stripConfigFlag([]string{"-c", "/etc/mongoreplicate.yaml", "--src_ip_port=localhost:27017"})
	if path != "/etc/mongoreplicate.yaml" {
		t.Fatalf("got path %q", path)
	}
	if want := []string{"--src_ip_port=localhost:27017"}; !reflect.DeepEqual(rest, want) {
		t.Fatalf("got rest %v, want %v", rest, want)
	}
}

func TestStripConfigFlagExtractsEqualsForm(t *testing.T) {
	path, rest := stripConfigFlag([]string{"--c=/etc/mongoreplicate.yaml"})
	if path != "/etc/mongoreplicate.yaml" {
		t.Fatalf("got path %q", path)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no leftover args, got %v", rest)
	}
}

func TestStripConfigFlagNoFlagReturnsAllArgs(t *testing.T) {
	path, rest := stripConfigFlag([]string{"--src_ip_port=localhost:27017"})
	if path != "" {
		t.Fatalf("expected no path, got %q", path)
	}
	if len(rest) != 1 {
		t.Fatalf("expected one leftover arg, got %v", rest)
	}
}
