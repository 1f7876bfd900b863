package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lazyPool builds a pool that never dials: pgxpool connects on first
// acquire when MinConns is zero.
func lazyPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig("postgres://u:p@127.0.0.1:1/orders?sslmode=disable&pool_max_conns=7")
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "order")

	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	assert.Len(t, names, 12)
	assert.Contains(t, names[0], "db_pool_acquired_connections")
}

func TestPoolStatsCollector_Collect(t *testing.T) {
	c := NewPoolStatsCollector(lazyPool(t), "order")

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 12, testutil.CollectAndCount(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "db_pool_max_connections" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		assert.Equal(t, 7.0, m.GetGauge().GetValue())
		require.Len(t, m.GetLabel(), 1)
		assert.Equal(t, "service", m.GetLabel()[0].GetName())
		assert.Equal(t, "order", m.GetLabel()[0].GetValue())
	}
	assert.True(t, found, "db_pool_max_connections not gathered")
}
