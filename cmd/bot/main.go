package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"aicycles.ai/internal/agent"
	"aicycles.ai/internal/config"
	"aicycles.ai/internal/persistence/indexdb"
	persistlog "aicycles.ai/internal/persistence/log"
	"aicycles.ai/internal/persistence/r2s3"
	"aicycles.ai/internal/protocol"
	"aicycles.ai/internal/session"
	"aicycles.ai/internal/transport/observer"
	"aicycles.ai/internal/transport/stream"
)

// Process exit statuses.
const (
	exitOK       = 0
	exitConnect  = 1
	exitSend     = 2
	exitReceive  = 3
	exitProtocol = 4
	exitConfig   = 5
	exitInternal = 6
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "YAML config file (optional)")
		host        = fs.String("host", "localhost", "arena server host")
		port        = fs.Int("port", protocol.DefaultPort, "arena server port")
		name        = fs.String("name", session.DefaultName, "name sent in the handshake")
		farewell    = fs.String("farewell", session.DefaultFarewell, "goodbye text sent when the match ends")
		readTimeout = fs.Duration("read_timeout", 0, "fail if the server is silent this long (0 = wait forever)")
		recordDir   = fs.String("record", "", "directory for wire recordings (optional)")
		historyDB   = fs.String("history", "", "SQLite match history path (optional)")
		observe     = fs.String("observer", "", "listen address for the observer feed, e.g. 127.0.0.1:8081 (optional)")
		logLevel    = fs.String("log_level", "info", "trace|debug|info|warn|error")
		logFormat   = fs.String("log_format", "text", "text|json")
	)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitConfig
	}
	// Flags given on the command line win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "name":
			cfg.Agent.Name = *name
		case "farewell":
			cfg.Agent.Farewell = *farewell
		case "read_timeout":
			cfg.Server.ReadTimeout = *readTimeout
		case "record":
			cfg.Record.Dir = *recordDir
		case "history":
			cfg.History.DB = *historyDB
		case "observer":
			cfg.Observer.Listen = *observe
		case "log_level":
			cfg.Log.Level = *logLevel
		case "log_format":
			cfg.Log.Format = *logFormat
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitConfig
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitConfig
	}
	return play(ctx, cfg, logger)
}

func play(ctx context.Context, cfg config.Config, logger *logrus.Logger) int {
	matchID := indexdb.NewMatchID()
	log := logger.WithField("match", matchID)

	opts := stream.Options{
		DialTimeout: cfg.Server.DialTimeout,
		ReadTimeout: cfg.Server.ReadTimeout,
		Logger:      log,
	}
	var rec *persistlog.Recorder
	if cfg.Record.Dir != "" {
		rec = persistlog.NewRecorder(cfg.Record.Dir, matchID, log)
		opts.Tap = rec
	}

	var archive *r2s3.Uploader
	if cfg.Archive.Enabled() {
		id, secret := cfg.Archive.Credentials()
		client, err := r2s3.New(cfg.Archive.Endpoint, cfg.Archive.Bucket, id, secret)
		if err != nil {
			log.WithError(err).Errorf("archive (set %s and %s)", config.EnvArchiveAccessKeyID, config.EnvArchiveSecretAccessKey)
			return exitConfig
		}
		archive = r2s3.NewUploader(client, cfg.Archive.Prefix, log)
	}

	sessCfg := session.Config{
		Name:     cfg.Agent.Name,
		Farewell: cfg.Agent.Farewell,
		Logger:   log,
	}
	if cfg.Observer.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Observer.Listen)
		if err != nil {
			log.WithError(err).Error("observer listen")
			return exitConfig
		}
		obs := observer.NewServer(log)
		obsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := obs.Serve(obsCtx, ln); err != nil {
				log.WithError(err).Warn("observer stopped")
			}
		}()
		sessCfg.Publish = obs.Publish
	}

	log.WithField("server", cfg.Addr()).Info("connecting")
	conn, err := stream.Dial(ctx, cfg.Addr(), opts)
	if err != nil {
		log.WithError(err).Error("connect failed")
		return exitCode(err)
	}
	log.WithField("remote", conn.RemoteAddr()).Info("connected")

	policy := agent.NewRandomTurner(cfg.Agent.LeftBelow, cfg.Agent.RightAbove, time.Now().UnixNano())
	started := time.Now()
	res, runErr := session.New(conn, policy, sessCfg).Run(ctx)
	ended := time.Now()

	var recording string
	if rec != nil {
		if err := rec.Close(); err != nil {
			log.WithError(err).Warn("close recording")
		}
		recording = rec.Path()
		if st, err := os.Stat(recording); err == nil {
			log.WithFields(logrus.Fields{"path": recording, "size": humanize.Bytes(uint64(st.Size())), "messages": rec.Seq()}).Info("recording saved")
		}
		if archive != nil && rec.Seq() > 0 {
			upCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if _, err := archive.Upload(upCtx, recording, ended); err != nil {
				log.WithError(err).Warn("recording not archived")
			}
			cancel()
		}
	}

	if cfg.History.DB != "" && res.LocalID != 0 {
		m := matchRecord(matchID, cfg, res, started, ended, recording, runErr)
		if err := saveHistory(cfg.History.DB, m); err != nil {
			log.WithError(err).Warn("match history not saved")
		}
	}

	local, _ := res.Local()
	fields := logrus.Fields{
		"player":   res.LocalID,
		"ticks":    humanize.Comma(int64(res.Ticks)),
		"turns":    res.Turns,
		"unknown":  res.Unknown,
		"dropped":  res.Discarded,
		"trail":    local.Trail,
		"duration": ended.Sub(started).Round(time.Millisecond),
	}
	switch {
	case runErr == nil:
		log.WithFields(fields).WithField("reason", res.Reason).Infof("match over (%s)", outcome(res))
	case errors.Is(runErr, context.Canceled):
		log.WithFields(fields).Info("interrupted")
	default:
		log.WithFields(fields).WithError(runErr).Error("session failed")
	}
	return exitCode(runErr)
}

func outcome(res session.Result) string {
	switch {
	case res.Won():
		return "won"
	case res.Survived():
		return "survived"
	default:
		return "eliminated"
	}
}

// exitCode maps a session error to the process status for its category.
// Errors that carry no known code are exitInternal.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	code := protocol.CodeOf(err)
	switch {
	case code == "" || !protocol.IsKnownCode(code):
		return exitInternal
	case code == protocol.ErrConnect:
		return exitConnect
	case code == protocol.ErrSend:
		return exitSend
	case protocol.IsReceive(err):
		return exitReceive
	default:
		return exitProtocol
	}
}

func matchRecord(id string, cfg config.Config, res session.Result, started, ended time.Time, recording string, runErr error) indexdb.MatchRecord {
	reason := string(res.Reason)
	if runErr != nil {
		reason = "error"
		if code := protocol.CodeOf(runErr); code != "" {
			reason = "error:" + code
		}
	}
	return indexdb.MatchRecord{
		ID:        id,
		StartedAt: started,
		EndedAt:   ended,
		Server:    cfg.Addr(),
		Name:      cfg.Agent.Name,
		LocalID:   res.LocalID,
		Width:     res.Width,
		Height:    res.Height,
		Players:   res.Players,
		Seed:      res.Seed,
		Ticks:     res.Ticks,
		Turns:     res.Turns,
		Reason:    reason,
		Recording: recording,
		Outcomes:  indexdb.Outcomes(res.Cycles, res.Deaths, res.DeathTicks, res.LocalID, cfg.Agent.Name),
	}
}

func saveHistory(path string, m indexdb.MatchRecord) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = idx.RecordMatch(ctx, m)
	return err
}
