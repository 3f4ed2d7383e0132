package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"prepai/internal/config"
	apperrors "prepai/internal/errors"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 500 * time.Millisecond

// CertReloader serves the gateway certificate and, when it comes from files,
// reloads it whenever the certificate or key changes on disk.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   *apperrors.Logger
	debounce time.Duration

	mu          sync.RWMutex
	cert        *tls.Certificate
	notAfter    time.Time
	reloads     int
	failures    int
	lastReload  time.Time
	lastError   string
	fsWatcher   *fsnotify.Watcher
	timer       *time.Timer
	stopChan    chan struct{}
	stopOnce    sync.Once
	reloadChan  chan struct{}
	watchedDirs []string
}

// NewCertReloader loads the certificate described by cfg. Inline content wins
// over files; only file-based certificates are watched.
func NewCertReloader(cfg config.TLSConfig, logger *apperrors.Logger) (*CertReloader, error) {
	cr := &CertReloader{
		certFile:   cfg.CertFile,
		keyFile:    cfg.KeyFile,
		logger:     logger,
		debounce:   defaultReloadDebounce,
		stopChan:   make(chan struct{}),
		reloadChan: make(chan struct{}, 1),
	}

	if cfg.CertContent != "" && cfg.KeyContent != "" {
		cert, err := tls.X509KeyPair([]byte(cfg.CertContent), []byte(cfg.KeyContent))
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate content: %w", err)
		}
		if err := cr.store(&cert); err != nil {
			return nil, err
		}
		cr.certFile, cr.keyFile = "", ""
		return cr, nil
	}

	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("TLS requires certFile and keyFile, or certContent and keyContent")
	}
	if err := cr.reload(); err != nil {
		return nil, err
	}
	return cr, nil
}

func (cr *CertReloader) store(cert *tls.Certificate) error {
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	cr.mu.Lock()
	cr.cert = cert
	cr.notAfter = leaf.NotAfter
	cr.lastReload = time.Now()
	cr.lastError = ""
	cr.mu.Unlock()
	return nil
}

// reload reads the key pair from disk. A failed reload keeps serving the
// previous certificate.
func (cr *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(cr.certFile, cr.keyFile)
	if err == nil {
		err = cr.store(&cert)
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if err != nil {
		cr.failures++
		cr.lastError = err.Error()
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	cr.reloads++
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (cr *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.cert, nil
}

// TimeToExpiry returns how long the current certificate stays valid.
func (cr *CertReloader) TimeToExpiry() (time.Duration, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	if cr.cert == nil {
		return 0, fmt.Errorf("no certificate loaded")
	}
	return time.Until(cr.notAfter), nil
}

// Stats reports reload counters for the health endpoint.
func (cr *CertReloader) Stats() map[string]any {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return map[string]any{
		"watching":         cr.fsWatcher != nil,
		"reload_count":     cr.reloads,
		"reload_failures":  cr.failures,
		"last_reload_time": cr.lastReload,
		"last_error":       cr.lastError,
	}
}

// Watch starts reloading the certificate on file changes. Directories are
// watched rather than the files so atomic renames are seen.
func (cr *CertReloader) Watch() error {
	if cr.certFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := []string{filepath.Dir(cr.certFile)}
	if d := filepath.Dir(cr.keyFile); d != dirs[0] {
		dirs = append(dirs, d)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	cr.mu.Lock()
	cr.fsWatcher = watcher
	cr.watchedDirs = dirs
	cr.mu.Unlock()

	go cr.watchLoop(watcher)

	cr.logger.Info("Certificate file watcher started",
		"files", []string{cr.certFile, cr.keyFile},
		"debounce_delay", cr.debounce)
	return nil
}

func (cr *CertReloader) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if cr.isCertEvent(event) {
				cr.scheduleReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cr.logger.LogError(err, "File watcher error")

		case <-cr.reloadChan:
			if err := cr.reload(); err != nil {
				cr.logger.LogError(err, "Certificate reload failed, keeping previous certificate")
				continue
			}
			cr.logger.Info("Certificate reloaded", "not_after", cr.expiry())

		case <-cr.stopChan:
			return
		}
	}
}

func (cr *CertReloader) expiry() time.Time {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.notAfter
}

func (cr *CertReloader) isCertEvent(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if name != filepath.Clean(cr.certFile) && name != filepath.Clean(cr.keyFile) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// scheduleReload debounces bursts of events from a single certificate
// rotation.
func (cr *CertReloader) scheduleReload() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.timer != nil {
		cr.timer.Stop()
	}
	cr.timer = time.AfterFunc(cr.debounce, func() {
		select {
		case cr.reloadChan <- struct{}{}:
		default:
		}
	})
}

// Close stops watching. It is safe to call more than once.
func (cr *CertReloader) Close() error {
	var err error
	cr.stopOnce.Do(func() {
		close(cr.stopChan)

		cr.mu.Lock()
		defer cr.mu.Unlock()
		if cr.timer != nil {
			cr.timer.Stop()
		}
		if cr.fsWatcher != nil {
			err = cr.fsWatcher.Close()
			cr.fsWatcher = nil
		}
	})
	return err
}
