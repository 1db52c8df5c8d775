package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	opts, err := Load([]string{"--src_ip_port", "a:1", "--dst_ip_port", "b:1"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.BGThreadNum != 8 || opts.BatchSize != 1000 {
		t.Fatalf("expected built-in defaults, got %+v", opts)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "src_ip_port: file:27017\ndst_ip_port: file:27018\nbg_thread_num: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := Load([]string{"--bg_thread_num", "16"}, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.SrcIPPort != "file:27017" {
		t.Fatalf("expected file value to survive, got %q", opts.SrcIPPort)
	}
	if opts.BGThreadNum != 16 {
		t.Fatalf("expected flag to override file value, got %d", opts.BGThreadNum)
	}
}

func TestValidateRequiresEndpoints(t *testing.T) {
	opts := defaults()
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error when src_ip_port/dst_ip_port are unset")
	}
}

func TestValidateRejectsOplogEndBeforeStart(t *testing.T) {
	opts := defaults()
	opts.SrcIPPort = "a:1"
	opts.DstIPPort = "b:1"
	opts.OplogStart = 100
	opts.OplogEnd = 50
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error when oplog_end precedes oplog_start")
	}
}

func TestValidateRejectsUnknownArchiveCompression(t *testing.T) {
	opts := defaults()
	opts.SrcIPPort = "a:1"
	opts.DstIPPort = "b:1"
	opts.ArchiveCompression = "bzip2"
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported archive_compression value")
	}
}
