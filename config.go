package replay

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-replay/flags"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// Config holds the application configuration
type Config struct {
	CatalogFile       string
	Services          []string         // Services tested in run-once mode
	Endpoint          string           // Endpoint tested in run-once mode
	RunnerType        types.RunnerType // Runner of the runs launched in run-once mode, and API default
	RunOnce           bool             // Indicates if the process should exit after testing Services
	RunWaitTimeout    time.Duration
	RedisURL          string
	DatabaseURL       string
	NetworkUsername   string
	NetworkPassword   string
	ArtifactDir       string
	MaxConcurrentRuns int64
	OperationTimeout  time.Duration
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
	HealthzAddr       string
	APIAddr           string
	MetricsEnabled    bool
	MetricsAddr       string
	Log               log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	catalogFile := ctx.String(flags.Catalog.Name)
	if catalogFile == "" {
		return nil, errors.New("catalog file is required")
	}
	absCatalogFile, err := filepath.Abs(catalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for catalog '%s': %w", catalogFile, err)
	}

	runnerType, err := types.ParseRunnerType(ctx.String(flags.Runner.Name))
	if err != nil {
		return nil, err
	}

	services := ctx.StringSlice(flags.Service.Name)
	runOnce := len(services) > 0
	endpoint := ctx.String(flags.Endpoint.Name)
	if runOnce && endpoint == "" {
		return nil, errors.New("endpoint is required when testing services once")
	}

	artifactDir := ctx.String(flags.ArtifactDir.Name)
	if artifactDir != "" {
		if artifactDir, err = filepath.Abs(artifactDir); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for artifact directory: %w", err)
		}
	}

	if ctx.Float64(flags.RequestsPerSecond.Name) < 0 {
		return nil, errors.New("requests per second cannot be negative")
	}

	rpcCfg := oprpc.ReadCLIConfig(ctx)
	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		CatalogFile:       absCatalogFile,
		Services:          services,
		Endpoint:          endpoint,
		RunnerType:        runnerType,
		RunOnce:           runOnce,
		RunWaitTimeout:    ctx.Duration(flags.RunWaitTimeout.Name),
		RedisURL:          ctx.String(flags.RedisURL.Name),
		DatabaseURL:       ctx.String(flags.DatabaseURL.Name),
		NetworkUsername:   ctx.String(flags.NetworkUsername.Name),
		NetworkPassword:   ctx.String(flags.NetworkPassword.Name),
		ArtifactDir:       artifactDir,
		MaxConcurrentRuns: ctx.Int64(flags.MaxConcurrentRuns.Name),
		OperationTimeout:  ctx.Duration(flags.OperationTimeout.Name),
		ConnectTimeout:    ctx.Duration(flags.ConnectTimeout.Name),
		ReadTimeout:       ctx.Duration(flags.ReadTimeout.Name),
		RequestsPerSecond: ctx.Float64(flags.RequestsPerSecond.Name),
		HealthzAddr:       ctx.String(flags.HealthzAddr.Name),
		APIAddr:           net.JoinHostPort(rpcCfg.ListenAddr, strconv.Itoa(rpcCfg.ListenPort)),
		MetricsEnabled:    metricsCfg.Enabled,
		MetricsAddr:       net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort)),
		Log:               log,
	}, nil
}
