package subscription

import (
	"context"
	"testing"
	"time"

	"telemetry-observer/src/models"
)

func rpcOptions(target *models.MRpcTarget) *Options {
	return &Options{
		Type:      models.SubscriptionRpc,
		RpcTarget: target,
	}
}

// TestRpcSubscriptionResolvedTarget verifies a direct target enables
// dispatch and surfaces in the snapshot.
func TestRpcSubscriptionResolvedTarget(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(&models.MRpcTarget{EntityID: "dev-007"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if sub.State() != StateResolved {
		t.Fatalf("expected resolved, got %s", sub.State())
	}

	snap := sub.Snapshot()
	if snap.Rpc == nil || !snap.Rpc.Enabled {
		t.Errorf("expected an enabled command snapshot: %+v", snap.Rpc)
	}
	info := sub.FirstEntityInfo()
	if info == nil || info.EntityID != "dev-007" {
		t.Errorf("unexpected first entity: %+v", info)
	}
}

// TestRpcSubscriptionWithoutTarget verifies the disabled path: construction
// succeeds, commands fail immediately.
func TestRpcSubscriptionWithoutTarget(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(nil))
	if err != nil {
		t.Fatalf("a missing target must not fail construction: %v", err)
	}

	snap := sub.Snapshot()
	if snap.Rpc == nil || snap.Rpc.Enabled {
		t.Errorf("expected a disabled command snapshot: %+v", snap.Rpc)
	}

	rs := sub.(*rpcSubscription)
	cmd := rs.SendTwoWayCommand(&models.MRpcRequest{Method: "getValue"})
	select {
	case <-cmd.Done():
	default:
		t.Fatal("disabled dispatch must complete synchronously")
	}
	if _, err := cmd.Result(); err == nil {
		t.Error("expected the disabled-target error")
	}
}

// TestRpcSubscriptionEmptyAlias verifies an alias resolving to nothing is
// not an error, just a disabled subscription.
func TestRpcSubscriptionEmptyAlias(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(&models.MRpcTarget{AliasID: "alias-empty"}))
	if err != nil {
		t.Fatalf("an empty alias must not fail construction: %v", err)
	}
	if snap := sub.Snapshot(); snap.Rpc.Enabled {
		t.Error("expected a disabled subscription")
	}
}

// TestRpcTwoWayThroughTransport verifies dispatch reaches the transport and
// the response comes back through the command future.
func TestRpcTwoWayThroughTransport(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(&models.MRpcTarget{EntityID: "dev-001"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rs := sub.(*rpcSubscription)
	cmd := rs.SendTwoWayCommand(&models.MRpcRequest{Method: "getValue"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cmd.Wait(ctx); err != nil {
		t.Errorf("unexpected command error: %v", err)
	}
}

// TestRpcAliasChangeRepointsTarget verifies alias updates repoint the
// executor and report target changes.
func TestRpcAliasChangeRepointsTarget(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(&models.MRpcTarget{AliasID: "alias-rpc"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if sub.OnAliasesChanged([]string{"other"}) {
		t.Error("an unreferenced alias must report false")
	}
	// The stub keeps resolving to the same device.
	if sub.OnAliasesChanged([]string{"alias-rpc"}) {
		t.Error("an unchanged target must report false")
	}
	if sub.OnFiltersChanged([]string{"anything"}) {
		t.Error("command subscriptions ignore filter changes")
	}
}

// TestRpcDestroySettlesCommands verifies teardown completes in-flight
// commands and disables further use.
func TestRpcDestroySettlesCommands(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, rpcOptions(&models.MRpcTarget{EntityID: "dev-001"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sub.Destroy()
	if sub.State() != StateDestroyed {
		t.Errorf("expected destroyed, got %s", sub.State())
	}
	// Destroy is idempotent.
	sub.Destroy()
}
