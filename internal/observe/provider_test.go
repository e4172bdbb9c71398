package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProviderRegistersMeterProvider(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceName: "voicepipe-test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	mp := otel.GetMeterProvider()
	if mp == nil {
		t.Fatal("no global meter provider registered")
	}
	if _, err := NewMetrics(mp); err != nil {
		t.Errorf("instruments against the registered provider: %v", err)
	}
}
