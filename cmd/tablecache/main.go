package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablecache"
	"tablecache/config"
	"tablecache/core"
	"tablecache/docstore"
	"tablecache/metrics"
	"tablecache/pubsub"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	envFile := flag.String("env", ".env", "Environment file")
	table := flag.String("table", "", "Collection to read")
	field := flag.String("field", "_id", "Query field")
	value := flag.String("value", "", "Query value; empty lists the collection by page")
	page := flag.Int64("page", 1, "Page to list")
	count := flag.Int64("count", 20, "Documents per page")
	sortField := flag.String("sort", "", "Sort field of the listing")
	desc := flag.Bool("desc", false, "Sort the listing in descending order")
	serve := flag.Bool("serve", false, "Keep serving metrics until interrupted")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := core.ConfigureLogger(cfg.LogDevelopment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger := core.GetLogger()
	defer logger.Sync()
	logger.Info("Configuration loaded", zap.String("config", cfg.String()))

	// Connect to MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())

	if err := mongoClient.Ping(ctx, nil); err != nil {
		logger.Fatal("Failed to ping MongoDB", zap.Error(err))
	}
	logger.Info("Connected to MongoDB", zap.String("db", cfg.MongoDB))

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to ping Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	opts := []tablecache.Option{
		tablecache.WithLogger(logger),
		tablecache.WithDebug(cfg.Debug),
		tablecache.WithPubSub(pubsub.New(redisClient, logger)),
		tablecache.WithFaultHandler(func(op string, err error) {
			logger.Warn("Swallowed fault", zap.String("op", op), zap.Error(err))
		}),
	}

	var server *http.Server
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		collector, err := metrics.NewPrometheus(registry)
		if err != nil {
			logger.Fatal("Failed to register metrics", zap.Error(err))
		}
		opts = append(opts, tablecache.WithMetrics(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	dal, err := tablecache.New(tablecache.StaticShard{
		Docs:  docstore.NewMongoStore(mongoClient.Database(cfg.MongoDB)),
		Redis: redisClient,
	}, opts...)
	if err != nil {
		logger.Fatal("Failed to create DAL", zap.Error(err))
	}

	if *table != "" {
		if err := run(context.Background(), dal, *table, *field, *value, *page, *count, *sortField, *desc); err != nil {
			logger.Error("Read failed", zap.Error(err))
		}
	}

	dal.Stats(func(report string) {
		fmt.Println(report)
	})

	if !*serve || server == nil {
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop metrics server", zap.Error(err))
	}
}

// run reads one document when value is set, otherwise one page of the collection.
func run(ctx context.Context, dal *tablecache.DAL, table, field, value string, page, count int64, sortField string, desc bool) error {
	if value != "" {
		doc, err := dal.FindOne(ctx, table, docstore.Document{field: value})
		if err != nil {
			return err
		}
		return printJSON(doc)
	}

	var opts []tablecache.CallOption
	if sortField != "" {
		direction := 1
		if desc {
			direction = -1
		}
		opts = append(opts, tablecache.WithSort(docstore.SortField{Field: sortField, Direction: direction}))
	}

	result, err := dal.FindByPage(ctx, table, docstore.Document{}, page, count, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("page %d: %d of %d\n", page, result.PageCount, result.Total)
	return printJSON(result.Items)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
