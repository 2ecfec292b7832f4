package fleetgate

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Rule-table reloads are coordinated: a new config arrives as a signed
// bundle, is verified and compiled, and only then swapped onto the engine.
// In-place mutation of the active table never happens.

// SignedConfigBundle is a config plus a detached signature over its
// checksum.
type SignedConfigBundle struct {
	Config    *Config        `json:"config"`
	Signature string         `json:"signature"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Checksum returns a deterministic hash of the rule-table content.
func (c *Config) Checksum() string {
	data, _ := json.Marshal(struct {
		Version      int
		PersonalData []string
		Tables       map[string][]Rule
	}{
		Version:      c.Version,
		PersonalData: c.PersonalData,
		Tables:       c.Tables,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SignConfig returns an ed25519 signature (base64) over the config checksum.
func SignConfig(priv ed25519.PrivateKey, cfg *Config) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid signing key")
	}
	sig := ed25519.Sign(priv, []byte(cfg.Checksum()))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyConfig verifies a signature produced by SignConfig.
func VerifyConfig(pub ed25519.PublicKey, cfg *Config, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, []byte(cfg.Checksum()), sig), nil
}

// SignBundle wraps a config into a signed bundle.
func SignBundle(priv ed25519.PrivateKey, cfg *Config) (*SignedConfigBundle, error) {
	sig, err := SignConfig(priv, cfg)
	if err != nil {
		return nil, err
	}
	return &SignedConfigBundle{Config: cfg, Signature: sig}, nil
}

// ApplySignedBundle verifies, compiles and swaps a bundled config. The
// active table is untouched unless every step succeeds.
func (e *Engine) ApplySignedBundle(pub ed25519.PublicKey, bundle *SignedConfigBundle) error {
	if bundle == nil || bundle.Config == nil {
		return fmt.Errorf("empty bundle")
	}
	ok, err := VerifyConfig(pub, bundle.Config, bundle.Signature)
	if err != nil {
		return fmt.Errorf("verify bundle: %w", err)
	}
	if !ok {
		return fmt.Errorf("bundle signature mismatch")
	}
	return e.ApplyConfig(bundle.Config)
}

// BundleSource fetches the current bundle, e.g. from object storage or a
// config service.
type BundleSource func(ctx context.Context) (*SignedConfigBundle, error)

// BundleReloader polls a source and applies changed bundles to the engine.
type BundleReloader struct {
	engine   *Engine
	source   BundleSource
	pub      ed25519.PublicKey
	interval time.Duration

	mu           sync.Mutex
	lastChecksum string
	stopCh       chan struct{}
	started      bool
	wg           sync.WaitGroup
}

func NewBundleReloader(engine *Engine, source BundleSource, pub ed25519.PublicKey, interval time.Duration) (*BundleReloader, error) {
	if engine == nil || source == nil {
		return nil, fmt.Errorf("engine and source are required")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &BundleReloader{
		engine:   engine,
		source:   source,
		pub:      pub,
		interval: interval,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins polling until ctx is done or Stop is called.
func (r *BundleReloader) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.poll(ctx)
			}
		}
	}()
}

func (r *BundleReloader) poll(ctx context.Context) {
	bundle, err := r.source(ctx)
	if err != nil || bundle == nil || bundle.Config == nil {
		if err != nil {
			r.engine.logger.Error("bundle fetch failed", "error", err.Error())
		}
		return
	}
	sum := bundle.Config.Checksum()
	r.mu.Lock()
	unchanged := sum == r.lastChecksum
	r.mu.Unlock()
	if unchanged {
		return
	}
	if err := r.engine.ApplySignedBundle(r.pub, bundle); err != nil {
		r.engine.logger.Error("bundle apply failed", "checksum", sum, "error", err.Error())
		return
	}
	r.mu.Lock()
	r.lastChecksum = sum
	r.mu.Unlock()
	r.engine.logger.Info("rule config reloaded", "checksum", sum)
}

// Stop halts polling and waits for the worker to exit.
func (r *BundleReloader) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stopCh)
	r.mu.Unlock()
	r.wg.Wait()
}
