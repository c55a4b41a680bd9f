package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"

	"labchat/internal/blobstore"
	"labchat/internal/chat"
	"labchat/internal/db"
	"labchat/internal/feed"
	"labchat/internal/logger"
	"labchat/internal/server"
	"labchat/internal/store/firestore"
	"labchat/internal/store/memory"
	"labchat/internal/store/sqlstore"
)

var opts struct {
	Addr             string        `long:"addr" env:"LABCHAT_ADDR" default:":8080" description:"http service address"`
	Store            string        `long:"store" env:"LABCHAT_STORE" default:"memory" choice:"memory" choice:"postgres" choice:"sqlite" choice:"firestore" description:"message store backend"`
	DBDSN            string        `long:"db-dsn" env:"DB_DSN" description:"postgres connection string"`
	SQLitePath       string        `long:"sqlite-path" env:"SQLITE_PATH" default:"./data/labchat.sqlite" description:"path to the sqlite database file"`
	RedisAddr        string        `long:"redis-addr" env:"REDIS_ADDR" description:"redis address for cross-instance notifications, empty keeps them in process"`
	FirestoreProject string        `long:"firestore-project" env:"FIRESTORE_PROJECT" description:"GCP project of the firestore database"`
	BlobDir          string        `long:"blob-dir" env:"BLOB_DIR" default:"./data/blobs" description:"directory for uploaded attachments"`
	BlobBucket       string        `long:"blob-bucket" env:"BLOB_BUCKET" description:"bucket url for attachments such as gs://name, empty keeps them under --blob-dir"`
	BlobPublicURL    string        `long:"blob-public-url" env:"BLOB_PUBLIC_URL" description:"base url of objects in --blob-bucket, empty uses the bucket's default"`
	PublicURL        string        `long:"public-url" env:"PUBLIC_URL" default:"http://localhost:8080" description:"externally reachable base url of this server"`
	ReplyMinDelay    time.Duration `long:"reply-min-delay" env:"REPLY_MIN_DELAY" default:"800ms" description:"minimum simulated auto-reply latency"`
	ReplyMaxDelay    time.Duration `long:"reply-max-delay" env:"REPLY_MAX_DELAY" default:"1600ms" description:"maximum simulated auto-reply latency"`
	UploadWorkers    int           `long:"upload-workers" env:"UPLOAD_WORKERS" default:"4" description:"concurrent attachment uploads per message"`
	PersistAttempts  int           `long:"persist-attempts" env:"PERSIST_ATTEMPTS" default:"3" description:"insert attempts before a send fails"`
	LogLevel         string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
}

var Revision = "dev"

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)
	log.Info("starting labchat", "revision", Revision, "store", opts.Store)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Notifications: Redis when several instances share one database.
	var redisClient *redis.Client
	if opts.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("connecting to redis", "addr", opts.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		log.Info("connected to redis", "addr", opts.RedisAddr)
	}
	hub := feed.NewHub(redisClient, log)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	store, closeStore, err := openStore(ctx, hub, log)
	if err != nil {
		log.Error("opening message store", "store", opts.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	blobs, files, err := openBlobs(ctx)
	if err != nil {
		log.Error("opening blob store", "error", err)
		os.Exit(1)
	}
	defer blobs.Close()

	uploader := chat.NewUploader(blobs, log, opts.UploadWorkers)
	responder := chat.NewResponder(opts.ReplyMinDelay, opts.ReplyMaxDelay)
	composer := chat.NewComposer(store, uploader, responder, log)
	composer.PersistAttempts = opts.PersistAttempts

	handler := server.NewHandler(store, composer, files, log)
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutting down http server", "error", err)
		}
	}()

	log.Info("server starting", "addr", opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serving http", "error", err)
		os.Exit(1)
	}

	log.Info("waiting for pending auto-replies")
	composer.Wait()
	<-hubDone
	log.Info("stopped")
}

func openStore(ctx context.Context, hub *feed.Hub, log logger.Logger) (chat.MessageStore, func(), error) {
	switch opts.Store {
	case "postgres", "sqlite":
		dialect, dsn := db.Postgres, opts.DBDSN
		if opts.Store == "sqlite" {
			dialect, dsn = db.SQLite, opts.SQLitePath
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, nil, err
			}
		}
		if dsn == "" {
			return nil, nil, errors.New("DB_DSN is not set")
		}

		database, err := db.NewDatabase(dialect, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := database.AutoMigrate(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		log.Info("database schema initialized", "dialect", dialect.Name)
		return sqlstore.NewRepository(database, hub, log), func() { database.Close() }, nil

	case "firestore":
		fs, err := firestore.NewStore(ctx, opts.FirestoreProject, log)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { fs.Close() }, nil

	default:
		return memory.NewStore(hub, log), func() {}, nil
	}
}

// openBlobs returns the attachment bucket and, for a local directory, the
// handler that serves it under /files/.
func openBlobs(ctx context.Context) (*blobstore.Bucket, http.Handler, error) {
	if opts.BlobBucket != "" {
		b, err := blobstore.Open(ctx, opts.BlobBucket, opts.BlobPublicURL)
		return b, nil, err
	}
	b, err := blobstore.OpenDir(opts.BlobDir, opts.PublicURL)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Handler(), nil
}
