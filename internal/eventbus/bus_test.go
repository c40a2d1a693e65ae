package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestEmitInvokesHandlersInOrder(t *testing.T) {
	bus := New()
	var order []int

	bus.On("deploy_completed", func(ctx context.Context, payload any) error {
		order = append(order, 1)
		return nil
	})
	bus.On("deploy_completed", func(ctx context.Context, payload any) error {
		order = append(order, 2)
		return nil
	})

	bus.Emit(context.Background(), "deploy_completed", nil)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers to run in registration order, got %v", order)
	}
}

func TestEmitContinuesAfterHandlerError(t *testing.T) {
	bus := New()
	second := false

	bus.On("webhook_received", func(ctx context.Context, payload any) error {
		return errors.New("boom")
	})
	bus.On("webhook_received", func(ctx context.Context, payload any) error {
		second = true
		return nil
	})

	bus.Emit(context.Background(), "webhook_received", nil)

	if !second {
		t.Fatal("expected second handler to run despite first handler's error")
	}
}

func TestEmitUnknownEventIsNoop(t *testing.T) {
	bus := New()
	bus.Emit(context.Background(), "routes_updated", map[string]string{"container_id": "abc"})
	if bus.HandlerCount("routes_updated") != 0 {
		t.Fatal("expected no handlers registered")
	}
}
