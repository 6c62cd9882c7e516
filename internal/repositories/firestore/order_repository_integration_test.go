//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
	pconfig "github.com/orderdesk/api/internal/platform/config"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "order-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:     "ord_integration",
		Number: "BO-2026-000001",
		Customer: domain.Customer{
			Name:  "Integration Tester",
			Email: "it@example.com",
		},
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Teapot", Quantity: 1, UnitPrice: 4200},
		},
		Status:        domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Duplicate insert must report a conflict.
	err = repo.Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	loaded, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.Number != order.Number || loaded.Version != 1 {
		t.Fatalf("unexpected loaded order %+v", loaded)
	}

	// Only one of two concurrent version-1 updates may win.
	const writers = 2
	outcomes := make([]error, writers)
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(idx int) {
			defer wg.Done()
			update := loaded
			update.Status = domain.OrderStatusCancelled
			update.CancelReason = fmt.Sprintf("writer %d", idx)
			update.UpdatedAt = time.Now().UTC()
			_, outcomes[idx] = repo.Update(ctx, update, 1)
		}(i)
	}
	wg.Wait()

	var conflicts, wins int
	for _, outcome := range outcomes {
		if outcome == nil {
			wins++
			continue
		}
		var updateErr repositories.RepositoryError
		if errors.As(outcome, &updateErr) && updateErr.IsConflict() {
			conflicts++
			continue
		}
		t.Fatalf("unexpected update outcome: %v", outcome)
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d conflicts", wins, conflicts)
	}

	final, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find final: %v", err)
	}
	if final.Version != 2 || final.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected final order %+v", final)
	}

	// A stale expected version must not clobber the stored state.
	stale := final
	stale.Status = domain.OrderStatusShipped
	_, err = repo.Update(ctx, stale, 1)
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected stale update conflict, got %v", err)
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{
		Status: []string{string(domain.OrderStatusCancelled)},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != order.ID {
		t.Fatalf("unexpected page %+v", page)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
