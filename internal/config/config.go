package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config is constructed once per process and handed to every component
// constructor. There is no ambient lookup beyond this value.
type Config struct {
	Database *dbConfig
	Redis    *redisConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"sitesmith"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type redisConfig struct {
	Address  string `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type svcConfig struct {
	Address        string `envconfig:"SITESMITH_ADDRESS" default:":8080"`
	MetricsAddress string `envconfig:"SITESMITH_METRICS_ADDRESS" default:":8090"`
	BaseURL        string `envconfig:"SITESMITH_BASE_URL" default:"http://localhost:8080"`
	LogLevel       string `envconfig:"SITESMITH_LOG_LEVEL" default:"info"`

	WorkspaceRoot  string `envconfig:"SITESMITH_WORKSPACE_ROOT" default:"/tmp/sitesmith/workspaces"`
	ArtifactRoot   string `envconfig:"SITESMITH_ARTIFACT_ROOT" default:"/tmp/sitesmith/artifacts"`
	AttachmentRoot string `envconfig:"SITESMITH_ATTACHMENT_ROOT" default:"/tmp/sitesmith/attachments"`
	PreviewRoot    string `envconfig:"SITESMITH_PREVIEW_ROOT" default:"/tmp/sitesmith/previews"`

	SessionTTLSeconds    int `envconfig:"SITESMITH_SESSION_TTL_SECONDS" default:"86400"`
	SnapshotTTLSeconds   int `envconfig:"SITESMITH_SNAPSHOT_TTL_SECONDS" default:"3600"`
	PreviewTTLSeconds    int `envconfig:"SITESMITH_PREVIEW_TTL_SECONDS" default:"1800"`
	PreviewsPerSession   int `envconfig:"SITESMITH_PREVIEWS_PER_SESSION" default:"3"`
	PendingJobsCeiling   int `envconfig:"SITESMITH_PENDING_JOBS_CEILING" default:"50"`
	ActiveJobsPerSession int `envconfig:"SITESMITH_ACTIVE_JOBS_PER_SESSION" default:"3"`

	SubmitRateLimit         int `envconfig:"SITESMITH_SUBMIT_RATE_LIMIT" default:"10"`
	SubmitRateWindowSeconds int `envconfig:"SITESMITH_SUBMIT_RATE_WINDOW_SECONDS" default:"3600"`
	DeployRateLimit         int `envconfig:"SITESMITH_DEPLOY_RATE_LIMIT" default:"20"`
	DeployRateWindowSeconds int `envconfig:"SITESMITH_DEPLOY_RATE_WINDOW_SECONDS" default:"3600"`

	AttachmentMaxBytes    int64  `envconfig:"SITESMITH_ATTACHMENT_MAX_BYTES" default:"1048576"`
	RequestTimeoutSeconds int    `envconfig:"SITESMITH_REQUEST_TIMEOUT_SECONDS" default:"120"`
	GenerationMaxRetries  int    `envconfig:"SITESMITH_GENERATION_MAX_RETRIES" default:"3"`
	AllowManifestCommands bool   `envconfig:"SITESMITH_ALLOW_MANIFEST_COMMANDS" default:"false"`
	PublishDefaultBranch  string `envconfig:"SITESMITH_PUBLISH_DEFAULT_BRANCH" default:"main"`

	Kafka  kafkaConfig
	GitHub githubConfig
}

type githubConfig struct {
	ClientID     string `envconfig:"SITESMITH_GITHUB_CLIENT_ID" default:""`
	ClientSecret string `envconfig:"SITESMITH_GITHUB_CLIENT_SECRET" default:""`
	RedirectURL  string `envconfig:"SITESMITH_GITHUB_REDIRECT_URL" default:""`
	Scope        string `envconfig:"SITESMITH_GITHUB_SCOPE" default:"public_repo"`
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"SITESMITH_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"SITESMITH_KAFKA_TOPIC" default:""`
	ClientID string   `envconfig:"SITESMITH_KAFKA_CLIENT_ID" default:"sitesmith"`
}

func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
