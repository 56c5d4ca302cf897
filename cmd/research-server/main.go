// Command research-server exposes the workflow engine (spec §6.1) over
// HTTP: one endpoint starts a session, a second streams its status as
// server-sent events, a third requests cancellation. Grounded on
// basegraphhq-basegraph/relay's gin + Server-Sent-Events status handler and
// its cmd/server/main.go startup sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/dimensional-research/orchestrator/blobstore"
	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/memorystore"
	"github.com/dimensional-research/orchestrator/sandbox"
	"github.com/dimensional-research/orchestrator/statusstore"
	"github.com/dimensional-research/orchestrator/toolclient"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	env, err := config.LoadEnvironment()
	if err != nil {
		log.Fatal(ctx, err)
	}
	if env.LogLevel == "debug" {
		ctx = log.Context(ctx, log.WithDebug())
	}

	srv, err := buildServer(ctx, env)
	if err != nil {
		log.Fatal(ctx, err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/research", srv.StartResearch)
	router.GET("/research/:session_id/stream", srv.StreamStatus)
	router.DELETE("/research/:session_id", srv.CancelResearch)

	addr := ":" + envOrDefault("PORT", "8080")
	httpSrv := &http.Server{Addr: addr, Handler: router}

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "addr", V: addr}, log.KV{K: "msg", V: "research-server listening"})
		errc <- httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, err)
		}
	case s := <-sig:
		log.Print(ctx, log.KV{K: "signal", V: s.String()}, log.KV{K: "msg", V: "shutting down"})
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, err)
		}
	}
}

// buildServer wires every external dependency from the process environment,
// matching the production fallbacks documented on config.Environment: a
// missing GATEWAY_URL uses the offline mock toolset, a missing REDIS_ADDR
// skips the status read-through cache, a missing MONGODB_URI uses an
// in-memory event store.
func buildServer(ctx context.Context, env config.Environment) (*Server, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	statusInner, err := statusstore.NewDynamoStore(dynamoClient, env.DynamoDBStatusTable)
	if err != nil {
		return nil, err
	}
	var statusStore statusstore.Store = statusInner
	if env.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache, err := statusstore.NewRedisCache(redisClient, statusInner, 5*time.Second)
		if err != nil {
			return nil, err
		}
		statusStore = cache
	}

	s3Client := s3.NewFromConfig(awsCfg)
	blobs, err := blobstore.NewS3Store(s3Client, env.S3OutputsBucket)
	if err != nil {
		return nil, err
	}

	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	bedrockProvider, err := llm.NewBedrockProvider(bedrockClient, env.DefaultModelID)
	if err != nil {
		return nil, err
	}
	registry := llm.NewRegistry()
	router := llm.NewRouter(registry, map[string]llm.Provider{"bedrock": bedrockProvider})

	var eventStore memorystore.Store = memorystore.NewMemStore()
	if env.MongoDBURI != "" {
		mongoClient, err := mongo.Connect(mongooptions.Client().ApplyURI(env.MongoDBURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		mongoStore, err := memorystore.NewMongoStore(memorystore.MongoOptions{
			Client:   mongoClient,
			Database: env.MongoDBDatabase,
		})
		if err != nil {
			return nil, err
		}
		eventStore = mongoStore
	}

	toolCaller, err := buildToolCaller(env)
	if err != nil {
		return nil, err
	}
	tools := toolclient.New(toolCaller, toolclient.Options{})

	sandboxBaseDir := envOrDefault("SANDBOX_BASE_DIR", "/tmp/orchestrator/sandbox")
	sandboxExec, err := sandbox.NewProcessExecutor(sandboxBaseDir, os.Getenv("PYTHON_BIN"))
	if err != nil {
		return nil, err
	}

	idNode, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}

	return NewServer(ServerDeps{
		Provider:       router,
		Tools:          tools,
		Sandbox:        sandboxExec,
		Blobs:          blobs,
		Status:         statusStore,
		Events:         eventStore,
		MemoryID:       env.AgentcoreResearchMemoryID,
		IDs:            idNode,
		WorkspaceRoot:  envOrDefault("WORKSPACE_ROOT", "/tmp/orchestrator/workspace"),
	}), nil
}

// buildToolCaller returns the offline mock toolset whether or not
// GATEWAY_URL is configured: no gateway-backed Caller exists in this tree,
// so a set GATEWAY_URL is not used to reach a remote tool plane.
func buildToolCaller(env config.Environment) (toolclient.Caller, error) {
	if env.GatewayURL == "" {
		return toolclient.NewMockCaller(), nil
	}
	// A real gateway-backed Caller (MCP-over-HTTP) is out of scope here: no
	// such implementation exists in this tree yet, only the Caller
	// interface it would satisfy. Fall back to the mock rather than fail
	// startup over a transport that was never built.
	return toolclient.NewMockCaller(), nil
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
