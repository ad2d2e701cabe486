//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/mallkit/api/internal/platform/config"
	pfirestore "github.com/mallkit/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type orderCard struct {
	Number string `firestore:"number"`
	Total  int64  `firestore:"total"`
}

func TestProviderAndCollectionIntegration(t *testing.T) {
	endpoint := startEmulator(t)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "mallkit-it",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}
	if client == nil {
		t.Fatalf("provider returned nil client")
	}

	orders := pfirestore.NewCollection[orderCard](provider, "orders", nil, nil)

	if _, err := orders.Set(ctx, "ord_1", orderCard{Number: "MK-20240101-0001", Total: 45000}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := orders.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "ord_1" {
		t.Fatalf("expected id ord_1, got %s", doc.ID)
	}
	if doc.Data.Number != "MK-20240101-0001" || doc.Data.Total != 45000 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatalf("expected update time to be set")
	}

	if _, err := orders.Update(ctx, "ord_1", []firestore.Update{{Path: "total", Value: 47000}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	doc, err = orders.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if doc.Data.Total != 47000 {
		t.Fatalf("expected total=47000, got %d", doc.Data.Total)
	}

	docs, err := orders.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	if _, err := orders.Get(ctx, "ord_missing"); err == nil {
		t.Fatalf("expected not found error")
	} else {
		type classifier interface{ IsNotFound() bool }
		var cls classifier
		if !errors.As(err, &cls) {
			t.Fatalf("expected repository error, got %v", err)
		}
		if !cls.IsNotFound() {
			t.Fatalf("expected not found classification")
		}
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := orders.DocumentRef(ctx, "ord_1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var card orderCard
		if err := snap.DataTo(&card); err != nil {
			return err
		}
		card.Total += 1000
		return tx.Set(ref, card)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err = orders.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("get after transaction failed: %v", err)
	}
	if doc.Data.Total != 48000 {
		t.Fatalf("expected total=48000 after txn, got %d", doc.Data.Total)
	}

	canceledCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(canceledCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

// startEmulator launches the Firestore emulator in docker and blocks until
// its port accepts connections. The container is removed on test cleanup.
func startEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancelInfo := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelInfo()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	containerID := strings.TrimSpace(string(out))
	if containerID == "" {
		t.Fatalf("docker returned empty container id")
	}
	t.Cleanup(func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	deadline := time.Now().Add(30 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
	return ""
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
