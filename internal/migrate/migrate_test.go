package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationDSN(t *testing.T) {
	assert.Equal(t,
		"clickhouse://localhost:9000/default?x-multi-statement=true",
		migrationDSN("clickhouse://localhost:9000/default"),
	)
	assert.Equal(t,
		"clickhouse://localhost:9000/default?username=u&password=p&x-multi-statement=true",
		migrationDSN("clickhouse://localhost:9000/default?username=u&password=p"),
	)
}

func TestFiles_UpAndDownPaired(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"001_traffic_metrics.down.sql",
		"001_traffic_metrics.up.sql",
	}, files)
}
