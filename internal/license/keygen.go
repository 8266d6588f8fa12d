// internal/license/keygen.go
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

// ErrLicenseExpired is returned when Keygen reports an expired licence.
var ErrLicenseExpired = errors.New("license has expired")

type Config struct {
	Key       string
	Account   string
	Product   string
	PublicKey string // verifies signed responses when set
}

// KeygenValidator validates the licence of this machine with Keygen.sh.
type KeygenValidator struct {
	logger *zap.Logger

	validate    func(ctx context.Context, fingerprint string) (*keygen.License, error)
	activate    func(ctx context.Context, l *keygen.License, fingerprint string) (string, error)
	fingerprint func() (string, error)
}

// NewKeygenValidator configures the keygen client globals from cfg.
func NewKeygenValidator(cfg Config, logger *zap.Logger) *KeygenValidator {
	keygen.Account = cfg.Account
	keygen.Product = cfg.Product
	keygen.LicenseKey = cfg.Key
	keygen.PublicKey = cfg.PublicKey

	return &KeygenValidator{
		logger: logger.Named("license"),
		validate: func(ctx context.Context, fingerprint string) (*keygen.License, error) {
			return keygen.Validate(ctx, fingerprint)
		},
		activate: func(ctx context.Context, l *keygen.License, fingerprint string) (string, error) {
			machine, err := l.Activate(ctx, fingerprint)
			if err != nil {
				return "", err
			}
			return machine.ID, nil
		},
		fingerprint: machineFingerprint,
	}
}

// ValidateLicense validates the licence, activating this machine on first use.
func (kv *KeygenValidator) ValidateLicense(ctx context.Context) error {
	fingerprint, err := kv.fingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	license, err := kv.validate(ctx, fingerprint)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		kv.logger.Info("License not activated, attempting activation")
		if license == nil {
			return errors.New("failed to activate license: no license returned")
		}
		machineID, activateErr := kv.activate(ctx, license, fingerprint)
		if activateErr != nil {
			return fmt.Errorf("failed to activate license: %w", activateErr)
		}
		kv.logger.Info("License activated", zap.String("machine_id", machineID))
	case errors.Is(err, keygen.ErrLicenseExpired):
		return ErrLicenseExpired
	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	if license == nil {
		return errors.New("license not found")
	}
	kv.logger.Info("License validation successful", zap.String("license_id", license.ID))
	return nil
}

// RunHeartbeat revalidates every interval until ctx ends. Failures are logged only.
func (kv *KeygenValidator) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := kv.ValidateLicense(ctx); err != nil && ctx.Err() == nil {
				kv.logger.Warn("License heartbeat failed", zap.Error(err))
			}
		}
	}
}

// machineFingerprint hashes hostname, the first active MAC and the OS.
func machineFingerprint() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	var mac string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			mac = iface.HardwareAddr.String()
			break
		}
	}
	if mac == "" {
		return "", errors.New("no network interfaces found")
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	hash := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", hostname, mac, runtime.GOOS)))
	return fmt.Sprintf("%x", hash), nil
}
