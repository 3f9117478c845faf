// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rtm/lib/compress"
	"github.com/bureau-foundation/rtm/lib/config"
	"github.com/bureau-foundation/rtm/lib/logging"
	"github.com/bureau-foundation/rtm/lib/process"
	"github.com/bureau-foundation/rtm/lib/version"
	"github.com/bureau-foundation/rtm/quest"
	"github.com/bureau-foundation/rtm/rtm"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options holds the flags that are not configuration overrides.
type options struct {
	configPath string
	to         int64
	group      int64
	room       int64
	message    string
	file       string
	fileType   int64
}

func run() error {
	var opts options
	var (
		gateway     string
		dispatch    string
		cluster     string
		pid         int64
		uid         int64
		tokenFile   string
		logLevel    string
		logFormat   string
		compression string
	)

	flagSet := pflag.NewFlagSet("rtm-client", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&gateway, "gateway", "", "gateway address host:port")
	flagSet.StringVar(&dispatch, "dispatch", "", "dispatcher address used to find the gateway")
	flagSet.StringVar(&cluster, "cluster", "", "gateway cluster to ask the dispatcher for")
	flagSet.Int64Var(&pid, "pid", 0, "project id")
	flagSet.Int64Var(&uid, "uid", 0, "user id")
	flagSet.StringVar(&tokenFile, "token-file", "", "file holding the authentication token")
	flagSet.Int64Var(&opts.to, "to", 0, "send to this user")
	flagSet.Int64Var(&opts.group, "group", 0, "send to this group")
	flagSet.Int64Var(&opts.room, "room", 0, "send to this room")
	flagSet.StringVar(&opts.message, "message", "", "text message to send")
	flagSet.StringVar(&opts.file, "file", "", "file to send")
	flagSet.Int64Var(&opts.fileType, "file-type", 50, "message type (mtype) of a sent file")
	flagSet.StringVar(&compression, "compression", "", "file compression: none, lz4, zstd")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "", "auto, text, json")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rtm-client")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	override := func(name string, apply func()) {
		if flagSet.Changed(name) {
			apply()
		}
	}
	override("gateway", func() { cfg.Gateway.Endpoint, cfg.Gateway.Dispatch = gateway, "" })
	override("dispatch", func() { cfg.Gateway.Dispatch, cfg.Gateway.Endpoint = dispatch, "" })
	override("cluster", func() { cfg.Gateway.Cluster = cluster })
	override("pid", func() { cfg.Auth.PID = pid })
	override("uid", func() { cfg.Auth.UID = uid })
	override("token-file", func() { cfg.Auth.TokenFile = tokenFile })
	override("compression", func() { cfg.Files.Compression = compression })
	override("log-level", func() { cfg.Log.Level = logLevel })
	override("log-format", func() { cfg.Log.Format = logFormat })
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	logger := logging.New(level, format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runClient(ctx, cfg, opts, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvironmentVariable) != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func runClient(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	questTimeout, err := cfg.QuestTimeoutDuration()
	if err != nil {
		return err
	}
	pingInterval, err := cfg.PingIntervalDuration()
	if err != nil {
		return err
	}
	dedupRetention, err := cfg.DedupRetentionDuration()
	if err != nil {
		return err
	}
	auxiliaryRetention, err := cfg.AuxiliaryRetentionDuration()
	if err != nil {
		return err
	}
	token, err := cfg.ReadToken()
	if err != nil {
		return err
	}
	compression, err := compress.ParseMethod(cfg.Files.Compression)
	if err != nil {
		return err
	}

	clientOptions := quest.ClientOptions{Logger: logger, QuestTimeout: questTimeout}
	if cfg.Encryption.Curve != "" {
		data, err := os.ReadFile(cfg.Encryption.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("reading gateway public key: %w", err)
		}
		if clientOptions.ServerPublicKey, err = quest.ParseKey(data); err != nil {
			return fmt.Errorf("gateway public key %s: %w", cfg.Encryption.PublicKeyFile, err)
		}
	}
	auxiliaryOptions := clientOptions
	auxiliaryOptions.AutoConnect = true

	scheduler := rtm.NewScheduler(rtm.SchedulerOptions{
		Logger:             logger,
		PingInterval:       pingInterval,
		DedupRetention:     dedupRetention,
		AuxiliaryRetention: auxiliaryRetention,
		Dial:               rtm.QuestTransport(auxiliaryOptions),
	})
	defer scheduler.Stop()

	sessionOptions := rtm.Options{
		Endpoint:     cfg.Gateway.Endpoint,
		Cluster:      cfg.Gateway.Cluster,
		Scheduler:    scheduler,
		QuestTimeout: questTimeout,
		NewTransport: rtm.QuestTransport(clientOptions),
		EventSink:    rtm.EventSinkFunc(func(event rtm.Event) { logEvent(logger, event) }),
		Logger:       logger,
	}
	if cfg.Gateway.ExhaustedBudget == config.ExhaustedDefaultTimeout {
		sessionOptions.ExhaustedBudget = rtm.ExhaustedUseDefaultTimeout
	}
	if cfg.Gateway.Dispatch != "" {
		dispatcher := quest.NewClient(cfg.Gateway.Dispatch, clientOptions)
		defer dispatcher.Close()
		sessionOptions.Resolver = rtm.NewDispatchResolver(dispatcher, questTimeout)
	}
	session, err := rtm.NewSession(sessionOptions)
	if err != nil {
		return err
	}
	defer session.Close()

	session.SetClosedCallback(func(causedByError bool) {
		logger.Info("session closed", "caused_by_error", causedByError)
	})

	credentials := rtm.Credentials{
		PID:          cfg.Auth.PID,
		UID:          cfg.Auth.UID,
		Token:        token,
		UnreadNotice: cfg.Auth.UnreadNotice,
	}
	connectCtx, cancel := context.WithTimeout(ctx, 3*questTimeout)
	ok, err := session.ConnectSync(connectCtx, credentials)
	cancel()
	if !ok {
		return fmt.Errorf("connecting session: %w", err)
	}
	logger.Info("connected", "endpoint", session.Endpoint(), "session", session.ID(), "uid", credentials.UID)
	if cfg.Gateway.AutoReconnect {
		session.EnableAutoAuth(credentials, func(ok bool, err error) {
			logger.Info("automatic reconnect", "ok", ok, "error", err)
		})
	}

	if err := send(ctx, session, opts, compression, logger); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	byeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.ByeSync(byeCtx); err != nil {
		logger.Warn("bye failed", "error", err)
	}
	return nil
}

// target resolves the --to/--group/--room flags to one recipient.
func (o options) target() (rtm.MessageClass, int64, error) {
	var class rtm.MessageClass
	var id int64
	count := 0
	for _, candidate := range []struct {
		class rtm.MessageClass
		id    int64
	}{
		{rtm.ClassDirect, o.to},
		{rtm.ClassGroup, o.group},
		{rtm.ClassRoom, o.room},
	} {
		if candidate.id != 0 {
			class, id = candidate.class, candidate.id
			count++
		}
	}
	if count != 1 {
		return 0, 0, errors.New("exactly one of --to, --group, --room is required to send")
	}
	return class, id, nil
}

func send(ctx context.Context, session *rtm.Session, opts options, compression compress.Method, logger *slog.Logger) error {
	if opts.message == "" && opts.file == "" {
		return nil
	}
	class, target, err := opts.target()
	if err != nil {
		return err
	}

	if opts.message != "" {
		message := rtm.Message{Text: opts.message}
		var messageID int64
		switch class {
		case rtm.ClassGroup:
			messageID, err = session.SendGroupMessageSync(ctx, target, message, 0)
		case rtm.ClassRoom:
			messageID, err = session.SendRoomMessageSync(ctx, target, message, 0)
		default:
			messageID, err = session.SendMessageSync(ctx, target, message, 0)
		}
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
		logger.Info("message sent", "to", class.String(), "target", target, "mid", messageID)
	}

	if opts.file != "" {
		file, err := rtm.ReadFile(opts.file, opts.fileType)
		if err != nil {
			return err
		}
		file.Compression = compression
		messageID, err := session.SendFileSync(ctx, class, target, file, 0)
		if err != nil {
			return fmt.Errorf("sending file: %w", err)
		}
		logger.Info("file sent", "name", file.Name, "bytes", len(file.Content), "target", target, "mid", messageID)
	}
	return nil
}

func logEvent(logger *slog.Logger, event rtm.Event) {
	switch e := event.(type) {
	case rtm.MessageEvent:
		logger.Info("message",
			"method", e.Method(),
			"scope", e.Scope,
			"from", e.From,
			"mid", e.MessageID,
			"mtype", e.MessageType,
			"msg", e.Message,
		)
	case rtm.TranslatedMessageEvent:
		logger.Info("translated message",
			"method", e.Method(),
			"scope", e.Scope,
			"from", e.From,
			"mid", e.MessageID,
			"omid", e.OriginalMessageID,
			"msg", e.Message,
		)
	case rtm.UnreadEvent:
		logger.Info("unread", "senders", e.Senders, "groups", e.Groups, "broadcast", e.Broadcast)
	case rtm.RoomKickoutEvent:
		logger.Warn("removed from room", "room", e.RoomID)
	case rtm.KickoutEvent:
		logger.Warn("kicked out by another login")
	default:
		logger.Info("event", "method", event.Method())
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `rtm-client: connect to an RTM gateway and log pushed events.

Usage:
  rtm-client [flags]

Examples:
  # Connect with a configuration file
  rtm-client --config client.yaml

  # Connect directly and send a message
  rtm-client --gateway 127.0.0.1:13321 --pid 1 --uid 42 --token-file token --to 7 --message hi

  # Send a compressed file to a group
  rtm-client --config client.yaml --group 9 --file report.csv --compression zstd

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
