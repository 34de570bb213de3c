package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

const EnvVarPrefix = "OP_REPLAY"

var (
	Catalog = &cli.StringFlag{
		Name:     "catalog",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CATALOG"),
		Usage:    "Path to the catalog file declaring services, stored requests and import jobs (eg. 'catalog.yaml')",
	}
	Service = &cli.StringSliceFlag{
		Name:    "service",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE"),
		Usage:   "Service id to test once and exit. Can be repeated. Omit to serve the API instead.",
	}
	Endpoint = &cli.StringFlag{
		Name:    "endpoint",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENDPOINT"),
		Usage:   "Endpoint tested by the runs launched with --service",
	}
	Runner = &cli.StringFlag{
		Name:    "runner",
		Value:   string(types.RunnerHTTP),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER"),
		Usage:   fmt.Sprintf("Runner replaying the requests, one of %v", types.RunnerTypes),
		Action: func(_ *cli.Context, v string) error {
			_, err := types.ParseRunnerType(v)
			return err
		},
	}
	RedisURL = &cli.StringFlag{
		Name:    "redis-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REDIS_URL"),
		Usage:   "Redis url used to hand out test numbers across processes (eg. 'redis://localhost:6379/0')",
	}
	DatabaseURL = &cli.StringFlag{
		Name:    "database-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DATABASE_URL"),
		Usage:   "Postgres url persisting test runs and exchanged messages. Runs are kept in memory when empty.",
	}
	NetworkUsername = &cli.StringFlag{
		Name:    "network-username",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NETWORK_USERNAME"),
		Usage:   "Username answering authentication challenges when fetching remote artifacts",
	}
	NetworkPassword = &cli.StringFlag{
		Name:    "network-password",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NETWORK_PASSWORD"),
		Usage:   "Password answering authentication challenges when fetching remote artifacts",
	}
	ArtifactDir = &cli.StringFlag{
		Name:    "artifact-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_DIR"),
		Usage:   "Directory receiving fetched artifacts. Defaults to the system temp directory.",
	}
	MaxConcurrentRuns = &cli.Int64Flag{
		Name:    "max-concurrent-runs",
		Value:   8,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_CONCURRENT_RUNS"),
		Usage:   "Maximum number of test runs executing at once, further runs queue",
	}
	OperationTimeout = &cli.DurationFlag{
		Name:    "operation-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OPERATION_TIMEOUT"),
		Usage:   "Aborts a run when one operation takes longer (e.g. '2m'). 0 disables it.",
	}
	ConnectTimeout = &cli.DurationFlag{
		Name:    "connect-timeout",
		Value:   runner.DefaultConnectTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONNECT_TIMEOUT"),
		Usage:   "Timeout connecting to the tested endpoint",
	}
	ReadTimeout = &cli.DurationFlag{
		Name:    "read-timeout",
		Value:   runner.DefaultReadTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "READ_TIMEOUT"),
		Usage:   "Timeout waiting for the tested endpoint to answer",
	}
	RequestsPerSecond = &cli.Float64Flag{
		Name:    "requests-per-second",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REQUESTS_PER_SECOND"),
		Usage:   "Pacing of the requests sent by a runner. 0 disables it.",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listening address of the health check server",
	}
	RunWaitTimeout = &cli.DurationFlag{
		Name:    "run-wait-timeout",
		Value:   30 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_WAIT_TIMEOUT"),
		Usage:   "How long --service waits for its runs before giving up",
	}
)

var requiredFlags = []cli.Flag{
	Catalog,
}

var optionalFlags = []cli.Flag{
	Service,
	Endpoint,
	Runner,
	RedisURL,
	DatabaseURL,
	NetworkUsername,
	NetworkPassword,
	ArtifactDir,
	MaxConcurrentRuns,
	OperationTimeout,
	ConnectTimeout,
	ReadTimeout,
	RequestsPerSecond,
	HealthzAddr,
	RunWaitTimeout,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
