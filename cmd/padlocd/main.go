package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/server"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/transport"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "listen address")
		mongoURI     = flag.String("mongo", "", "MongoDB URI (optional)")
		mongoDB      = flag.String("db", "padloc", "Mongo database name")
		mongoColl    = flag.String("coll", "objects", "Mongo collection name")
		postgresDSN  = flag.String("postgres", "", "Postgres DSN (optional)")
		blobDir      = flag.String("blobs", "", "attachment directory (in-memory if empty)")
		operator     = flag.String("operator", "", "operator email for error reports")
		smtpHost     = flag.String("smtp-host", "", "SMTP host")
		smtpPort     = flag.String("smtp-port", "587", "SMTP port")
		smtpUser     = flag.String("smtp-user", "", "SMTP user")
		smtpPass     = flag.String("smtp-pass", "", "SMTP password")
		smtpFrom     = flag.String("smtp-from", "", "SMTP sender address")
		smtpSecurity = flag.String("smtp-security", "starttls", "SMTP security: none, starttls or ssl")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[server] ", log.LstdFlags)

	store, closeStore, err := buildStorage(*mongoURI, *mongoDB, *mongoColl, *postgresDSN)
	if err != nil {
		logger.Fatalf("storage init failed: %v", err)
	}
	defer closeStore()

	var blobs storage.BlobStore = storage.NewMemoryBlobStore()
	if *blobDir != "" {
		blobs = storage.NewFileBlobStore(*blobDir)
	}

	msgr := messenger.NewSMTP(messenger.SMTPConfig{
		Host:     *smtpHost,
		Port:     *smtpPort,
		User:     *smtpUser,
		Pass:     *smtpPass,
		From:     *smtpFrom,
		Security: *smtpSecurity,
	}, logger)

	reg := prometheus.NewRegistry()
	ctrl := server.New(server.Config{
		OperatorEmail: *operator,
		MongoURI:      *mongoURI,
		MongoDB:       *mongoDB,
		Collection:    *mongoColl,
		PostgresDSN:   *postgresDSN,
		BlobDir:       *blobDir,
	}, store, blobs, msgr, logger, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req transport.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		res := ctrl.Receive(r.Context(), &req)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(res)
	})

	logger.Printf("listening on %s", *addr)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Fatal(srv.ListenAndServe())
}

// buildStorage picks the object store backend: Mongo when a URI is
// given, Postgres when a DSN is given, in-memory otherwise.
func buildStorage(mongoURI, db, coll, dsn string) (storage.Storage, func(), error) {
	switch {
	case mongoURI != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m, err := storage.NewMongo(ctx, mongoURI, db, coll)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close(context.Background()) }, nil
	case dsn != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := storage.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}
