package localstore

import (
	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/internal/obs"
)

type syncStateRecord struct {
	LastSyncedSequence int64 `json:"last_synced_sequence"`
}

// GetLastSynced returns the last acknowledged server sequence for userID, or
// 0 if the user has never synced.
func (s *Store) GetLastSynced(userID uuid.UUID) (int64, error) {
	var rec syncStateRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(tx, bucketSyncState, userID.String(), &rec)
		return err
	})
	if err != nil {
		return 0, obs.New(obs.KindFatal, "localstore.GetLastSynced", err)
	}
	return rec.LastSyncedSequence, nil
}

// SetLastSynced persists the sequence through which userID's replica is
// known to be caught up, surviving process restarts.
func (s *Store) SetLastSynced(userID uuid.UUID, sequence int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketSyncState, userID.String(), &syncStateRecord{LastSyncedSequence: sequence})
	})
	if err != nil {
		return obs.New(obs.KindFatal, "localstore.SetLastSynced", err)
	}
	return nil
}

// UserConfig is the embedder-provided connection configuration persisted
// locally so a restarted process can resume without re-supplying it.
type UserConfig struct {
	Email      string `json:"email"`
	ServerURL  string `json:"server_url"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
}

const userConfigKey = "default"

// SaveUserConfig persists the embedder's connection configuration.
func (s *Store) SaveUserConfig(cfg *UserConfig) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketUserConfig, userConfigKey, cfg)
	})
	if err != nil {
		return obs.New(obs.KindFatal, "localstore.SaveUserConfig", err)
	}
	return nil
}

// LoadUserConfig returns the persisted configuration, or (nil, nil) if none
// was ever saved.
func (s *Store) LoadUserConfig() (*UserConfig, error) {
	var cfg UserConfig
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx, bucketUserConfig, userConfigKey, &cfg)
		return err
	})
	if err != nil {
		return nil, obs.New(obs.KindFatal, "localstore.LoadUserConfig", err)
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}
