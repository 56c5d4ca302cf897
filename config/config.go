// Package config loads process-wide configuration from the environment and
// holds the static tables (depth profile, research-type toolset) that shape
// a research run.
package config

import (
	"fmt"
	"os"
)

// Environment holds the variables enumerated for this system. Absence of a
// required variable is a fatal init error, never a silently-applied default,
// except where noted below.
type Environment struct {
	AWSRegion                    string
	AgentcoreMemoryID            string
	AgentcoreResearchMemoryID    string
	DynamoDBStatusTable          string
	DynamoDBUserPreferencesTable string
	S3OutputsBucket              string
	GatewayURL                   string
	TavilyAPIKey                 string
	GoogleAPIKey                 string
	GoogleSearchEngineID         string
	DefaultModelID               string
	LogLevel                     string

	// RedisAddr, MongoDBURI and MongoDBDatabase configure optional
	// accelerator/backing stores (statusstore.RedisCache, memorystore.MongoStore).
	// Unlike the required vars above, their absence is not fatal: the server
	// falls back to the inner status store directly and to an in-memory
	// event store respectively.
	RedisAddr      string
	MongoDBURI     string
	MongoDBDatabase string
}

// required lists the variables whose absence aborts startup. GATEWAY_URL is
// deliberately absent from this list: when unset, the tool client falls back
// to the offline mock toolset (SPEC_FULL §C) rather than failing init.
var required = []string{
	"AWS_REGION",
	"AGENTCORE_MEMORY_ID",
	"DYNAMODB_STATUS_TABLE",
	"S3_OUTPUTS_BUCKET",
	"DEFAULT_MODEL_ID",
}

// LoadEnvironment reads and validates the process environment. It returns a
// structured error naming every missing required variable so operators don't
// have to iterate one failure at a time.
func LoadEnvironment() (Environment, error) {
	var missing []string
	for _, name := range required {
		if _, ok := os.LookupEnv(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Environment{}, fmt.Errorf("config: missing required environment variables: %v", missing)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return Environment{
		AWSRegion:                    os.Getenv("AWS_REGION"),
		AgentcoreMemoryID:            os.Getenv("AGENTCORE_MEMORY_ID"),
		AgentcoreResearchMemoryID:    os.Getenv("AGENTCORE_RESEARCH_MEMORY_ID"),
		DynamoDBStatusTable:          os.Getenv("DYNAMODB_STATUS_TABLE"),
		DynamoDBUserPreferencesTable: os.Getenv("DYNAMODB_USER_PREFERENCES_TABLE"),
		S3OutputsBucket:              os.Getenv("S3_OUTPUTS_BUCKET"),
		GatewayURL:                   os.Getenv("GATEWAY_URL"),
		TavilyAPIKey:                 os.Getenv("TAVILY_API_KEY"),
		GoogleAPIKey:                 os.Getenv("GOOGLE_API_KEY"),
		GoogleSearchEngineID:         os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
		DefaultModelID:               os.Getenv("DEFAULT_MODEL_ID"),
		LogLevel:                     logLevel,
		RedisAddr:                    os.Getenv("REDIS_ADDR"),
		MongoDBURI:                   os.Getenv("MONGODB_URI"),
		MongoDBDatabase:              envOr("MONGODB_DATABASE", "orchestrator"),
	}, nil
}

// envOr reads name from the environment, falling back to def when unset.
func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}
