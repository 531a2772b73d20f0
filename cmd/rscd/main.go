// Command rscd connects to a single remote driver process and exposes its
// session over stdin/stdout: each line of stdin is submitted as one REPL
// statement, and the statement's eventual output is printed to stdout.
// It exists to exercise the session/rpcchannel/sasl stack end to end
// without a real Spark/PySpark/SparkR driver on the other end.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remoteexec/rsc/rpcchannel"
	"github.com/remoteexec/rsc/rscconf"
	"github.com/remoteexec/rsc/rsccompress"
	"github.com/remoteexec/rsc/sasl"
	"github.com/remoteexec/rsc/session"
	"github.com/remoteexec/rsc/telemetry"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:10000", "driver address")
		clientID   = flag.String("client-id", "", "SASL client id")
		secret     = flag.String("secret", "", "SASL secret")
		kind       = flag.String("kind", string(rscconf.Spark), "interpreter kind: spark, pyspark, or sparkr")
		proxyUser  = flag.String("proxy-user", "", "impersonate this user on the driver, if set")
		maxOps     = flag.Int("max-operations", 1000, "bound on the session's in-flight job table")
		pollEvery  = flag.Duration("poll-interval", time.Second, "replJobResult poll backoff")
		connectFor = flag.Duration("connect-timeout", 10*time.Second, "TCP connect timeout")
		shakeFor   = flag.Duration("handshake-timeout", 10*time.Second, "SASL handshake timeout")
		jobCompr   = flag.String("job-compression", "none", "job payload compression: none, gzip, snappy, or zstd")
	)
	flag.Parse()

	compression, err := parseCompression(*jobCompr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rscd: %s\n", err)
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rscd: building logger: %s\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *clientID == "" || *secret == "" {
		log.Fatal("rscd: both -client-id and -secret are required")
	}

	cfg := rscconf.New(
		rscconf.WithCredentials(*clientID, *secret),
		rscconf.WithKind(rscconf.Kind(*kind)),
		rscconf.WithProxyUser(*proxyUser),
		rscconf.WithMaxOperations(*maxOps),
		rscconf.WithStatementPollInterval(*pollEvery),
		rscconf.WithConnectTimeout(*connectFor),
		rscconf.WithHandshakeTimeout(*shakeFor),
		rscconf.WithJobCompression(compression),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tel, err := telemetry.New("rscd")
	if err != nil {
		log.Fatal("rscd: building telemetry", zap.Error(err))
	}

	sessionID := uuid.NewString()
	sess, err := connect(ctx, *addr, cfg, sessionID, log, tel)
	if err != nil {
		log.Fatal("rscd: connect", zap.Error(err))
	}
	defer sess.Stop(context.Background())

	if err := sess.Ping(ctx); err != nil {
		log.Fatal("rscd: initial ping failed", zap.Error(err))
	}
	log.Info("rscd: session ready", zap.String("session_id", sess.ID()))

	runREPL(ctx, sess, log)
}

func parseCompression(name string) (rsccompress.Algorithm, error) {
	switch name {
	case "", "none":
		return rsccompress.None, nil
	case "gzip":
		return rsccompress.Gzip, nil
	case "snappy":
		return rsccompress.Snappy, nil
	case "zstd":
		return rsccompress.Zstd, nil
	default:
		return rsccompress.None, fmt.Errorf("unknown -job-compression %q", name)
	}
}

// connect wires a Channel and a Session together, satisfying the two-phase
// construction the channel's inactive handler needs: the handler closure
// captures the Session pointer, but the Session can't be built without an
// already-connected channel, so the pointer is declared before Connect and
// assigned after New.
func connect(ctx context.Context, addr string, cfg *rscconf.Config, sessionID string, log *zap.Logger, tel *telemetry.Telemetry) (*session.Session, error) {
	var sess *session.Session

	ch, err := rpcchannel.Connect(ctx, addr, cfg, sasl.DigestMD5{},
		rpcchannel.WithLogger(log),
		rpcchannel.WithTelemetry(tel),
		rpcchannel.WithInactiveHandler(func(cause error) {
			if sess != nil {
				sess.OnChannelInactive(cause)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sess = session.New(sessionID, ch, cfg,
		session.WithLogger(log),
		session.WithTelemetry(tel),
	)
	return sess, nil
}

// runREPL submits each stdin line as a statement and waits for it to
// settle before reading the next line, matching this spec's single
// in-flight-statement-per-session contract.
func runREPL(ctx context.Context, sess *session.Session, log *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		code := scanner.Text()
		if code == "" {
			continue
		}

		submitted, err := sess.ExecuteStatement(ctx, code)
		if err != nil {
			log.Warn("rscd: statement rejected", zap.Error(err))
			continue
		}

		stmt, _ := sess.Statement(submitted.ID)
		for stmt.State == session.StatementWaiting || stmt.State == session.StatementRunning {
			select {
			case <-ctx.Done():
				return
			case <-time.After(25 * time.Millisecond):
			}
			stmt, _ = sess.Statement(submitted.ID)
		}

		switch stmt.State {
		case session.StatementAvailable:
			fmt.Println(stmt.Output)
		case session.StatementError:
			fmt.Fprintf(os.Stderr, "statement %d failed: %s\n", stmt.ID, stmt.Err)
		case session.StatementCancelled:
			fmt.Fprintf(os.Stderr, "statement %d cancelled\n", stmt.ID)
		}
	}
}
