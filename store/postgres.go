package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

var (
	_ Store     = (*Postgres)(nil)
	_ Sequencer = (*Postgres)(nil)
)

// Schema creates the tables used by Postgres. Test case results are embedded
// in the test run row.
const Schema = `
CREATE TABLE IF NOT EXISTS test_runs (
	id              TEXT PRIMARY KEY,
	service_id      TEXT NOT NULL,
	tested_endpoint TEXT NOT NULL,
	runner_type     TEXT NOT NULL,
	test_number     BIGINT NOT NULL,
	test_date       TIMESTAMPTZ NOT NULL,
	success         BOOLEAN NOT NULL,
	in_progress     BOOLEAN NOT NULL,
	elapsed_ns      BIGINT NOT NULL,
	test_cases      JSONB NOT NULL,
	UNIQUE (service_id, test_number)
);

CREATE TABLE IF NOT EXISTS test_number_counters (
	service_id TEXT PRIMARY KEY,
	value      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS responses (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	test_case_id TEXT NOT NULL,
	status       INTEGER NOT NULL,
	media_type   TEXT NOT NULL,
	content      TEXT NOT NULL,
	headers      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS responses_test_case_idx ON responses (test_case_id);

CREATE TABLE IF NOT EXISTS requests (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	operation_id TEXT NOT NULL,
	test_case_id TEXT NOT NULL,
	response_id  TEXT REFERENCES responses (id),
	path         TEXT NOT NULL,
	content      TEXT NOT NULL,
	headers      JSONB NOT NULL,
	query_params JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_test_case_idx ON requests (test_case_id);
`

// Postgres is a Store and Sequencer backed by a pgx connection pool.
type Postgres struct {
	conn *pgxpool.Pool
}

func NewPostgres(ctx context.Context, uri string) (*Postgres, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.conn.Close()
	return nil
}

func (p *Postgres) SaveTestRun(ctx context.Context, run *types.TestRun) error {
	cases, err := json.Marshal(run.TestCaseResults)
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}

	sql := `
INSERT INTO test_runs (id, service_id, tested_endpoint, runner_type, test_number, test_date, success, in_progress, elapsed_ns, test_cases)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	tested_endpoint = EXCLUDED.tested_endpoint,
	runner_type = EXCLUDED.runner_type,
	test_number = EXCLUDED.test_number,
	success = EXCLUDED.success,
	in_progress = EXCLUDED.in_progress,
	elapsed_ns = EXCLUDED.elapsed_ns,
	test_cases = EXCLUDED.test_cases
`
	if _, err := p.conn.Exec(ctx, sql,
		run.ID,
		run.ServiceID,
		run.TestedEndpoint,
		string(run.RunnerType),
		run.TestNumber,
		run.TestDate,
		run.Success,
		run.InProgress,
		int64(run.ElapsedTime),
		cases,
	); err != nil {
		return fmt.Errorf("failed to save test run: %w", err)
	}
	return nil
}

const selectTestRun = `
SELECT id, service_id, tested_endpoint, runner_type, test_number, test_date, success, in_progress, elapsed_ns, test_cases
FROM test_runs`

func scanTestRun(row pgx.Row) (*types.TestRun, error) {
	var (
		run        types.TestRun
		runnerType string
		elapsedNs  int64
		cases      []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.ServiceID,
		&run.TestedEndpoint,
		&runnerType,
		&run.TestNumber,
		&run.TestDate,
		&run.Success,
		&run.InProgress,
		&elapsedNs,
		&cases,
	); err != nil {
		return nil, err
	}
	run.RunnerType = types.RunnerType(runnerType)
	run.ElapsedTime = time.Duration(elapsedNs)
	if err := json.Unmarshal(cases, &run.TestCaseResults); err != nil {
		return nil, fmt.Errorf("failed to decode test cases: %w", err)
	}
	return &run, nil
}

func (p *Postgres) GetTestRun(ctx context.Context, id string) (*types.TestRun, error) {
	run, err := scanTestRun(p.conn.QueryRow(ctx, selectTestRun+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get test run: %w", err)
	}
	return run, nil
}

func (p *Postgres) ListTestRuns(ctx context.Context, serviceID string) ([]*types.TestRun, error) {
	rows, err := p.conn.Query(ctx, selectTestRun+" WHERE service_id = $1 ORDER BY test_number DESC", serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.TestRun
	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *Postgres) LatestTestNumber(ctx context.Context, serviceID string) (int64, error) {
	var latest int64
	sql := `SELECT COALESCE(MAX(test_number), 0) FROM test_runs WHERE service_id = $1`
	if err := p.conn.QueryRow(ctx, sql, serviceID).Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to get latest test number: %w", err)
	}
	return latest, nil
}

// NextTestNumber bumps the counter row of the service in a single statement.
// The row lock taken by the upsert serializes concurrent callers; a missing
// row is seeded from the highest stored test number.
func (p *Postgres) NextTestNumber(ctx context.Context, serviceID string) (int64, error) {
	sql := `
INSERT INTO test_number_counters (service_id, value)
VALUES ($1, (SELECT COALESCE(MAX(test_number), 0) FROM test_runs WHERE service_id = $1) + 1)
ON CONFLICT (service_id) DO UPDATE SET value = test_number_counters.value + 1
RETURNING value
`
	var next int64
	if err := p.conn.QueryRow(ctx, sql, serviceID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to allocate test number: %w", err)
	}
	return next, nil
}

// SaveResponses writes the batch in one transaction. Generated ids are set on
// the responses only once the transaction commits.
func (p *Postgres) SaveResponses(ctx context.Context, responses []*types.Response) error {
	ids := make([]string, len(responses))
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		sql := `
INSERT INTO responses (id, name, test_case_id, status, media_type, content, headers)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	test_case_id = EXCLUDED.test_case_id,
	status = EXCLUDED.status,
	media_type = EXCLUDED.media_type,
	content = EXCLUDED.content,
	headers = EXCLUDED.headers
`
		for i, resp := range responses {
			ids[i] = resp.ID
			if ids[i] == "" {
				ids[i] = uuid.New().String()
			}
			headers, err := encodeMap(resp.Headers)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sql,
				ids[i], resp.Name, resp.TestCaseID, resp.Status, resp.MediaType, resp.Content, headers,
			); err != nil {
				return fmt.Errorf("failed to insert response: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, resp := range responses {
		resp.ID = ids[i]
	}
	return nil
}

// SaveRequests writes the batch in one transaction. Like SaveResponses it
// only sets generated ids after the commit.
func (p *Postgres) SaveRequests(ctx context.Context, requests []*types.Request) error {
	ids := make([]string, len(requests))
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		sql := `
INSERT INTO requests (id, name, operation_id, test_case_id, response_id, path, content, headers, query_params)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	test_case_id = EXCLUDED.test_case_id,
	response_id = EXCLUDED.response_id,
	content = EXCLUDED.content,
	headers = EXCLUDED.headers,
	query_params = EXCLUDED.query_params
`
		for i, req := range requests {
			ids[i] = req.ID
			if ids[i] == "" {
				ids[i] = uuid.New().String()
			}
			headers, err := encodeMap(req.Headers)
			if err != nil {
				return err
			}
			query, err := encodeMap(req.QueryParameters)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sql,
				ids[i], req.Name, req.OperationID, req.TestCaseID, req.ResponseID, req.Path, req.Content, headers, query,
			); err != nil {
				return fmt.Errorf("failed to insert request: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, req := range requests {
		req.ID = ids[i]
	}
	return nil
}

func (p *Postgres) FindRequestsByTestCase(ctx context.Context, testCaseID string) ([]*types.Request, error) {
	sql := `
SELECT id, name, operation_id, test_case_id, COALESCE(response_id, ''), path, content, headers, query_params
FROM requests WHERE test_case_id = $1 ORDER BY name
`
	rows, err := p.conn.Query(ctx, sql, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var found []*types.Request
	for rows.Next() {
		var (
			req            types.Request
			headers, query []byte
		)
		if err := rows.Scan(&req.ID, &req.Name, &req.OperationID, &req.TestCaseID, &req.ResponseID,
			&req.Path, &req.Content, &headers, &query); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if err := json.Unmarshal(headers, &req.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode request headers: %w", err)
		}
		if err := json.Unmarshal(query, &req.QueryParameters); err != nil {
			return nil, fmt.Errorf("failed to decode query parameters: %w", err)
		}
		found = append(found, &req)
	}
	return found, rows.Err()
}

func (p *Postgres) FindResponsesByTestCase(ctx context.Context, testCaseID string) ([]*types.Response, error) {
	sql := `
SELECT id, name, test_case_id, status, media_type, content, headers
FROM responses WHERE test_case_id = $1 ORDER BY name
`
	rows, err := p.conn.Query(ctx, sql, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var found []*types.Response
	for rows.Next() {
		var (
			resp    types.Response
			headers []byte
		)
		if err := rows.Scan(&resp.ID, &resp.Name, &resp.TestCaseID, &resp.Status, &resp.MediaType,
			&resp.Content, &headers); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal(headers, &resp.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode response headers: %w", err)
		}
		found = append(found, &resp)
	}
	return found, rows.Err()
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func encodeMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode map: %w", err)
	}
	return b, nil
}
