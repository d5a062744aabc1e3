package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/norun9/gostore-cart/cart"
	"github.com/norun9/gostore-cart/services"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := configFromEnv(envOf(map[string]string{
		"CART_FILE":            filepath.Join(t.TempDir(), "cart.json"),
		"OTEL_TRACES_EXPORTER": "none",
	}))
	require.NoError(t, cfg.normalize())
	return cfg
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

func TestServe(t *testing.T) {
	cfg := testConfig(t)
	lis, metricsLis := listen(t), listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, lis, metricsLis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()

	health := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := health.Check(rpcCtx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	client := services.NewCartServiceClient(conn)
	hat := cart.Product{ID: "hat", Title: "Hat", ImageURL: "https://img/hat.png", Price: 12}
	_, err = client.AddToCart(rpcCtx, &services.AddToCartRequest{Product: hat})
	require.NoError(t, err)
	got, err := client.Increment(rpcCtx, &services.ItemRequest{ID: "hat"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalQuantity)

	resp, err := http.Get("http://" + metricsLis.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `gostore_cart_mutations_total{op="increment"} 1`)

	resp, err = http.Get("http://" + metricsLis.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	raw, err := os.ReadFile(cfg.Storage.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), cart.StorageKey)

	// The persisted cart survives a restart and is visible through dump.
	var out bytes.Buffer
	root := rootCmd(&cfg)
	root.SetOut(&out)
	root.SetArgs([]string{"dump"})
	require.NoError(t, root.Execute())
	assert.JSONEq(t, `[{"id":"hat","title":"Hat","image_url":"https://img/hat.png","price":12,"quantity":2}]`, out.String())
}

func TestServe_ClosesListenersWhenStartupFails(t *testing.T) {
	cfg := testConfig(t)
	notADir := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(notADir, nil, 0o644))
	cfg.Storage.FilePath = filepath.Join(notADir, "cart.json")

	lis, metricsLis := listen(t), listen(t)
	require.Error(t, serve(context.Background(), cfg, lis, metricsLis))

	_, err := lis.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = metricsLis.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestDumpAndClear(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Storage.FilePath,
		[]byte(`{"@GoStore:products":"[{\"id\":\"mug\",\"title\":\"Mug\",\"image_url\":\"\",\"price\":7.5,\"quantity\":3}]"}`), 0o644))

	run := func(args ...string) string {
		var out bytes.Buffer
		root := rootCmd(&cfg)
		root.SetOut(&out)
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		return out.String()
	}

	assert.JSONEq(t, `[{"id":"mug","title":"Mug","image_url":"","price":7.5,"quantity":3}]`, run("dump"))
	run("clear")
	assert.JSONEq(t, `[]`, run("dump"))
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	root := rootCmd(&cfg)
	root.SetOut(io.Discard)
	root.SetArgs([]string{"dump", "--backend", "sqlite"})
	assert.Error(t, root.Execute())
}
