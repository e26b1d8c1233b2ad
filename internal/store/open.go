package store

import (
	"context"
	"fmt"
)

// Source kinds accepted by Open.
const (
	KindFile     = "file"
	KindSQL      = "sql"
	KindDynamoDB = "dynamodb"
)

// Config selects and configures a policy source.
type Config struct {
	Kind string

	// file
	Path string

	// sql
	Driver string
	DSN    string

	// dynamodb
	Region string
	Tables DynamoDBTables
}

// Open creates the source described by cfg.
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindFile, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file source: path is required")
		}
		src, err := NewFileSource(cfg.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	case KindSQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sql source: dsn is required")
		}
		src, err := NewSQLSource(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return src, nil
	case KindDynamoDB:
		src, err := NewDynamoDBSource(ctx, cfg.Region, cfg.Tables)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown policy source %q", cfg.Kind)
	}
}
