//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"keepsake/pkg/testutil/containers"
)

// TestPostgresStoreContract runs the store contract against a migrated
// Postgres, which the sqlmock suite cannot check for row-value paging.
func TestPostgresStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		if err := pg.Reset(context.Background()); err != nil {
			t.Fatalf("reset postgres: %v", err)
		}
		return NewPostgres(pg.DB)
	}})
}
