package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/protocol"
	"github.com/evalgo/docsync/serverstore"
	"github.com/evalgo/docsync/syncengine"
)

func logrusDebugLevel() logrus.Level { return logrus.DebugLevel }

// loadMasterKey resolves the 32-byte key that seals API credential secrets
// at rest (serverstore.Open), preferring an explicit --master-key flag,
// then the DOCSYNC_MASTER_KEY environment variable.
func loadMasterKey(hexFlag string) ([]byte, error) {
	raw := hexFlag
	if raw == "" {
		raw = os.Getenv("DOCSYNC_MASTER_KEY")
	}
	if raw == "" {
		return nil, fmt.Errorf("master key not set: pass --master-key or set DOCSYNC_MASTER_KEY (32 bytes, hex-encoded)")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// runServer opens the authoritative store, wires the session registry and
// server sync engine, and serves the websocket upgrade endpoint until ctx
// is cancelled.
func runServer(ctx context.Context, cfg config.ServerConfig, masterKey []byte) error {
	store, err := serverstore.Open(ctx, cfg.DatabaseURL, masterKey)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := protocol.NewRegistry()
	engine := syncengine.NewServerEngine(store, registry)

	listener := serverstore.NewListener(store.Pool())
	listener.OnChange(func(n serverstore.ChangeNotification) {
		obs.Logger.WithField("sequence", n.Sequence).Debug("serverstore: cross-process change notification observed")
	})
	go listener.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := protocol.Upgrade(w, r)
		if err != nil {
			obs.Logger.WithError(err).Warn("cli: websocket upgrade failed")
			return
		}
		go func() {
			if err := engine.HandleConnection(r.Context(), conn); err != nil {
				obs.Logger.WithError(err).Debug("cli: connection ended")
			}
		}()
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	obs.Logger.WithField("addr", addr).Info("docsync: serving")

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// runGenerateCredentials mints and prints one new API key/secret pair.
func runGenerateCredentials(ctx context.Context, cfg config.ServerConfig, masterKey []byte, name string) error {
	store, err := serverstore.Open(ctx, cfg.DatabaseURL, masterKey)
	if err != nil {
		return err
	}
	defer store.Close()

	apiKey, secret, err := store.GenerateCredential(ctx, name)
	if err != nil {
		return err
	}

	fmt.Printf("api_key: %s\n", apiKey)
	fmt.Printf("secret:  %s\n", secret)
	fmt.Println("Store the secret now — it will not be shown again.")
	return nil
}
