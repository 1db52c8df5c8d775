// Package config loads the replicator's options, either from a YAML
// file (-c <path>) or from command-line flags, per spec.md §6. File
// values are applied first as defaults; flags explicitly set on the
// command line override them.
package config

import (
	"os"

	"github.com/alecthomas/kingpin"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Options holds every recognised option from spec.md §6's table plus
// the SPEC_FULL.md §6 additions (version skew + archive).
type Options struct {
	SrcIPPort  string `yaml:"src_ip_port"`
	SrcAuthDB  string `yaml:"src_auth_db"`
	SrcUser    string `yaml:"src_user"`
	SrcPasswd  string `yaml:"src_passwd"`
	SrcUseMCR  bool   `yaml:"src_use_mcr"`

	DstIPPort string `yaml:"dst_ip_port"`
	DstAuthDB string `yaml:"dst_auth_db"`
	DstUser   string `yaml:"dst_user"`
	DstPasswd string `yaml:"dst_passwd"`

	DBs   string `yaml:"dbs"`
	Colls string `yaml:"colls"`

	OplogStart int64 `yaml:"oplog_start"`
	OplogEnd   int64 `yaml:"oplog_end"`

	IsMongos bool `yaml:"is_mongos"`

	BGThreadNum int `yaml:"bg_thread_num"`
	BatchSize   int `yaml:"batch_size"`

	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`

	// SPEC_FULL.md §6 additions.
	MinVersionSkew      string `yaml:"min_version_skew"`
	ArchiveURL          string `yaml:"archive_url"`
	ArchiveCompression  string `yaml:"archive_compression"`
	ArchiveIntervalSec  int    `yaml:"archive_interval_sec"`
}

// defaults mirrors the unqualified defaults named in spec.md §4 and §6.
func defaults() Options {
	return Options{
		BGThreadNum:        8,
		BatchSize:          1000,
		LogLevel:           "INFO",
		LogDir:             "./log",
		ArchiveCompression: "s2",
		ArchiveIntervalSec: 60,
	}
}

// Load builds Options from the built-in defaults, then the config file
// (if path is non-empty), then argv overlaid on top, and validates the
// result.
func Load(argv []string, path string) (Options, error) {
	opts := defaults()

	if path != "" {
		if err := loadFile(path, &opts); err != nil {
			return opts, errors.Wrap(err, "load config file")
		}
	}

	if err := parseFlags(argv, &opts); err != nil {
		return opts, errors.Wrap(err, "parse flags")
	}

	if err := opts.Validate(); err != nil {
		return opts, errors.Wrap(err, "validate config")
	}

	return opts, nil
}

func loadFile(path string, opts *Options) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return errors.Wrap(yaml.Unmarshal(b, opts), "unmarshal yaml")
}

// parseFlags overlays CLI flags onto opts. A flag is applied only when its
// parsed value is non-zero (a non-empty string, a non-zero number, or true
// for a bool), so a flag left unset does not clobber a value already set
// by the config file; a flag cannot reset a file value to zero or false.
func parseFlags(argv []string, opts *Options) error {
	app := kingpin.New("mongoreplicate", "one-way MongoDB replication engine")

	srcIPPort := app.Flag("src_ip_port", "source endpoint host:port").String()
	srcAuthDB := app.Flag("src_auth_db", "source auth database").String()
	srcUser := app.Flag("src_user", "source user").String()
	srcPasswd := app.Flag("src_passwd", "source password").String()
	srcUseMCR := app.Flag("src_use_mcr", "accepted but not applied: source cursors use the driver's default read concern").Bool()

	dstIPPort := app.Flag("dst_ip_port", "destination endpoint host:port").String()
	dstAuthDB := app.Flag("dst_auth_db", "destination auth database").String()
	dstUser := app.Flag("dst_user", "destination user").String()
	dstPasswd := app.Flag("dst_passwd", "destination password").String()

	dbs := app.Flag("dbs", "comma-separated database allow-list").String()
	colls := app.Flag("colls", "comma-separated collection allow-list").String()

	oplogStart := app.Flag("oplog_start", "only checked against oplog_end at startup; tailing starts at the checkpoint or the source oplog head").Int64()
	oplogEnd := app.Flag("oplog_end", "pinned oplog stop timestamp").Int64()

	isMongos := app.Flag("is_mongos", "treat source as a sharding router").Bool()

	bgThreadNum := app.Flag("bg_thread_num", "workers per destination pool").Int()
	batchSize := app.Flag("batch_size", "max documents per write batch").Int()

	logLevel := app.Flag("log_level", "DEBUG|INFO|WARN|FATAL").String()
	logDir := app.Flag("log_dir", "log file directory").String()

	minVersionSkew := app.Flag("min_version_skew", "minimum version both source and destination must report, e.g. 4.2").String()
	archiveURL := app.Flag("archive_url", "remote archive destination (file://, s3://, azblob://)").String()
	archiveCompression := app.Flag("archive_compression", "none|snappy|s2|lz4|gzip").String()
	archiveIntervalSec := app.Flag("archive_interval_sec", "seconds between archive snapshots").Int()

	if len(argv) == 0 {
		return nil
	}

	if _, err := app.Parse(argv); err != nil {
		return err
	}

	overlayString(&opts.SrcIPPort, *srcIPPort)
	overlayString(&opts.SrcAuthDB, *srcAuthDB)
	overlayString(&opts.SrcUser, *srcUser)
	overlayString(&opts.SrcPasswd, *srcPasswd)
	opts.SrcUseMCR = opts.SrcUseMCR || *srcUseMCR

	overlayString(&opts.DstIPPort, *dstIPPort)
	overlayString(&opts.DstAuthDB, *dstAuthDB)
	overlayString(&opts.DstUser, *dstUser)
	overlayString(&opts.DstPasswd, *dstPasswd)

	overlayString(&opts.DBs, *dbs)
	overlayString(&opts.Colls, *colls)

	overlayInt64(&opts.OplogStart, *oplogStart)
	overlayInt64(&opts.OplogEnd, *oplogEnd)

	opts.IsMongos = opts.IsMongos || *isMongos

	overlayInt(&opts.BGThreadNum, *bgThreadNum)
	overlayInt(&opts.BatchSize, *batchSize)

	overlayString(&opts.LogLevel, *logLevel)
	overlayString(&opts.LogDir, *logDir)

	overlayString(&opts.MinVersionSkew, *minVersionSkew)
	overlayString(&opts.ArchiveURL, *archiveURL)
	overlayString(&opts.ArchiveCompression, *archiveCompression)
	overlayInt(&opts.ArchiveIntervalSec, *archiveIntervalSec)

	return nil
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func overlayInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

// Validate enforces the "Configuration error" taxonomy entry from
// spec.md §7: missing required option or contradictory flags is fatal
// at startup.
func (o Options) Validate() error {
	if o.SrcIPPort == "" {
		return errors.New("src_ip_port is required")
	}
	if o.DstIPPort == "" {
		return errors.New("dst_ip_port is required")
	}
	if o.OplogEnd != 0 && o.OplogStart != 0 && o.OplogEnd < o.OplogStart {
		return errors.New("oplog_end must not precede oplog_start")
	}
	if o.BGThreadNum <= 0 {
		return errors.New("bg_thread_num must be positive")
	}
	if o.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	switch o.ArchiveCompression {
	case "", "none", "snappy", "s2", "lz4", "gzip":
	default:
		return errors.Errorf("unknown archive_compression %q", o.ArchiveCompression)
	}
	return nil
}
