package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fyerfyer/truthlens-rag/api"
	"github.com/fyerfyer/truthlens-rag/api/handler"
	"github.com/fyerfyer/truthlens-rag/api/model"
	"github.com/fyerfyer/truthlens-rag/config"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const usage = `Usage: truthlens <command> [flags]

Commands:
  build   -doc <path> [-index <dir>]        build the vector index from a reference document
  query   [-index <dir>] [-k N] "<claim>"   retrieve research methodology context for a claim
  serve   [-index <dir>] [-port N]          run the HTTP retrieval API
  worker                                    process queued index rebuilds

Every command accepts -config <file>.
`

func main() {
	// .env不存在时忽略
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(models.KindConfiguration.ExitCode())
	}

	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "build":
		err = runBuild(args)
	case "query":
		os.Exit(runQuery(args))
	case "serve":
		err = runServe(args)
	case "worker":
		err = runWorker(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(models.KindConfiguration.ExitCode())
	}

	if err != nil {
		kind := models.KindOf(err)
		logrus.WithField("kind", kind).Error(err.Error())
		os.Exit(kind.ExitCode())
	}
}

// parseFlags 解析子命令参数，参数错误属于配置错误
func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return models.NewError(models.KindConfiguration, "invalid arguments", err)
	}
	return nil
}

// runBuild 构建索引并发布新的构建代
func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	docPath := fs.String("doc", "", "Reference document (pdf, md or txt)")
	location := fs.String("index", "", "Index directory (overrides index.location)")
	chunkSize := fs.Int("chunk-size", 0, "Chunk size in characters (overrides document.chunk_size)")
	chunkOverlap := fs.Int("chunk-overlap", -1, "Chunk overlap in characters (overrides document.chunk_overlap)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *docPath == "" {
		return models.Errorf(models.KindConfiguration, "-doc is required")
	}

	a, err := newApp(*configPath, func(cfg *config.Config) {
		if *location != "" {
			cfg.Index.Location = *location
		}
		if *chunkSize > 0 {
			cfg.Document.ChunkSize = *chunkSize
		}
		if *chunkOverlap >= 0 {
			cfg.Document.ChunkOverlap = *chunkOverlap
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	builder, err := a.newBuildService(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := builder.Build(ctx, services.BuildRequest{
		DocPath:       *docPath,
		IndexLocation: a.cfg.Index.Location,
	})
	if err != nil {
		return err
	}
	return printJSON(model.NewBuildInfo(result))
}

// runQuery 检索陈述的上下文并以JSON输出，返回退出码
func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	location := fs.String("index", "", "Index directory (overrides index.location)")
	k := fs.Int("k", 0, "Number of chunks to retrieve (default retrieval.top_k)")

	claim := ""
	fail := func(err error) int {
		kind := models.KindOf(err)
		_ = printJSON(model.ContextErrorResponse{Claim: claim, Error: err.Error(), Kind: string(kind)})
		return kind.ExitCode()
	}

	if err := parseFlags(fs, args); err != nil {
		return fail(err)
	}
	claim = strings.Join(fs.Args(), " ")

	a, err := newApp(*configPath, func(cfg *config.Config) {
		if *location != "" {
			cfg.Index.Location = *location
		}
	})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	retriever := a.newRetrievalService()
	topK := retriever.DefaultK()
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "k" {
			topK = *k
		}
	})

	text, err := retriever.GetContext(context.Background(), claim, topK)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(model.ContextResponse{Claim: claim, Context: text}); err != nil {
		return models.KindInternal.ExitCode()
	}
	return 0
}

// runServe 启动HTTP检索服务
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	location := fs.String("index", "", "Index directory (overrides index.location)")
	port := fs.Int("port", 0, "Server port (overrides server.port)")
	mode := fs.String("mode", gin.ReleaseMode, "Run mode (debug/release)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	gin.SetMode(*mode)

	a, err := newApp(*configPath, func(cfg *config.Config) {
		if *location != "" {
			cfg.Index.Location = *location
		}
		if *port > 0 {
			cfg.Server.Port = *port
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	docStorage, err := a.setupStorage()
	if err != nil {
		return err
	}
	builder, err := a.newBuildService(docStorage)
	if err != nil {
		return err
	}
	retriever := a.newRetrievalService()

	// 启动时尝试加载索引，不存在时等待重建
	if info, err := retriever.Reload(context.Background()); err != nil {
		a.logger.WithError(err).Warn("No index loaded yet, rebuild it through /api/index/rebuild")
	} else {
		a.logger.WithField("generation", info.Generation).Info("Index loaded")
	}

	indexOpts := []handler.IndexOption{handler.WithDocumentStorage(docStorage)}
	var taskHandler *handler.TaskHandler
	if a.cfg.Queue.Enable {
		queue, err := a.setupTaskQueue()
		if err != nil {
			return err
		}
		indexOpts = append(indexOpts, handler.WithQueue(queue, a.cfg.Queue.TaskTimeout))
		taskHandler = handler.NewTaskHandler(queue, retriever)
	}

	router := api.SetupRouter(
		handler.NewContextHandler(retriever),
		handler.NewIndexHandler(retriever, builder, a.cfg.Index.Location, indexOpts...),
		taskHandler,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.Queue.TaskTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return models.NewError(models.KindConfiguration, "failed to start server", err)
		}
		return nil
	case <-quit:
	}
	a.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("Server exited")
	return nil
}

// runWorker 处理队列中的索引重建任务
func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(*configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	docStorage, err := a.setupStorage()
	if err != nil {
		return err
	}
	builder, err := a.newBuildService(docStorage)
	if err != nil {
		return err
	}
	queue, err := a.setupTaskQueue()
	if err != nil {
		return err
	}

	worker := taskqueue.NewRedisWorker(queue)
	worker.RegisterHandler(taskqueue.TaskIndexBuild, builder)
	a.logger.WithField("concurrency", a.cfg.Queue.Concurrency).Info("Worker started")
	return worker.Run()
}

// printJSON 将结果输出到标准输出
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
