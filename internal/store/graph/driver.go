package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

type Driver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

type Neo4jDriver struct {
	driver neo4j.DriverWithContext
	log    *logger.Logger
}

func NewNeo4jDriver(log *logger.Logger, uri, username, password string) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, &model.StoreUnavailable{Store: "graph", Err: err}
	}

	log.Info("connected to graph store", "uri", uri)
	return &Neo4jDriver{driver: driver, log: log.With("store", "graph")}, nil
}

func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, &model.StoreUnavailable{Store: "graph", Err: fmt.Errorf("failed to execute query: %w", err)}
	}
	return *result, nil
}

// BuildIndices creates the per-label uniqueness constraints on natural_key.
// Failures are logged and tolerated since the constraint may already exist.
func (d *Neo4jDriver) BuildIndices(ctx context.Context) error {
	for _, kind := range model.Kinds() {
		q := fmt.Sprintf(
			"CREATE CONSTRAINT %s_natural_key IF NOT EXISTS FOR (n:%s) REQUIRE n.natural_key IS UNIQUE",
			kind, kind.Label(),
		)
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			d.log.Warn("failed to create constraint", "kind", kind, "error", err)
		}
	}
	return nil
}
