// Copyright 2025 ProvChain Authors

package monitor

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/integrity"
	"github.com/provchain/provchain/pkg/store"
)

type testWallet struct {
	validatorID string
	pub         ed25519.PublicKey
	priv        ed25519.PrivateKey
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testWallet{validatorID: "validator-1", pub: pub, priv: priv}
}

func (w *testWallet) ValidatorID() string { return w.validatorID }
func (w *testWallet) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(w.priv, data), nil
}
func (w *testWallet) Verify(validatorID string, data, signature []byte) (bool, error) {
	if validatorID != w.validatorID {
		return false, nil
	}
	return ed25519.Verify(w.pub, data, signature), nil
}

func newTestChain(t *testing.T) (*chain.Chain, *testWallet, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	c := chain.New("provchain.test", s)
	w := newTestWallet(t)
	if _, err := c.Genesis(w, ""); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return c, w, s
}

func TestMonitor_CheckNow_RecordsHistory(t *testing.T) {
	c, w, s := newTestChain(t)
	m := New("provchain.test", c, w, s, time.Hour, 3, nil)

	for i := 0; i < 5; i++ {
		if report := m.CheckNow(); report == nil {
			t.Fatalf("CheckNow returned nil on iteration %d", i)
		}
	}

	history := m.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want bounded to 3", len(history))
	}
}

func TestMonitor_CheckNow_HealthyGenesisOnlyChain(t *testing.T) {
	c, w, s := newTestChain(t)
	m := New("provchain.test", c, w, s, time.Hour, 10, nil)

	report := m.CheckNow()
	if report == nil {
		t.Fatal("CheckNow returned nil")
	}
	if report.OverallStatus != integrity.StatusHealthy {
		t.Fatalf("overall status = %s, want Healthy; report=%+v", report.OverallStatus, report)
	}
}

type recordingAlerter struct {
	calls []integrity.Status
}

func (r *recordingAlerter) Alert(report *integrity.Report) {
	r.calls = append(r.calls, report.OverallStatus)
}

func TestMonitor_AlertThrottling(t *testing.T) {
	c, w, s := newTestChain(t)
	b1, err := c.Append(w, "@prefix ex: <http://e/> .\nex:s ex:p \"1\" .\nex:s ex:p2 \"2\" .\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// Truncate the stored payload graph: the transaction count drifts by
	// 2 (a Warning on its own) and the stored payload_hash no longer
	// matches, which makes the report Critical.
	quads, err := s.GetGraph(b1.PayloadGraphIRI)
	if err != nil {
		t.Fatalf("get graph: %v", err)
	}
	if err := s.PutGraph(b1.PayloadGraphIRI, quads[:0]); err != nil {
		t.Fatalf("put graph: %v", err)
	}

	alerter := &recordingAlerter{}
	m := New("provchain.test", c, w, s, time.Hour, 10, nil,
		WithAlerter(alerter), WithAlertThrottle(time.Hour))

	m.CheckNow()
	m.CheckNow()
	m.CheckNow()

	if len(alerter.calls) != 1 {
		t.Fatalf("expected exactly one alert within the throttle window, got %d: %+v", len(alerter.calls), alerter.calls)
	}
	if alerter.calls[0] != integrity.StatusCritical {
		t.Fatalf("alert severity = %s, want Critical", alerter.calls[0])
	}
}

func TestMonitor_Run_RespondsToOnDemandAndStop(t *testing.T) {
	c, w, s := newTestChain(t)
	m := New("provchain.test", c, w, s, time.Hour, 10, nil)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	// Give the loop a moment to install itself as running, then drive
	// an on-demand check through it.
	time.Sleep(10 * time.Millisecond)
	report := m.CheckNow()
	if report == nil {
		t.Fatal("on-demand CheckNow through a running Monitor returned nil")
	}

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
