package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"plannerbot/internal/model"
)

const (
	keyAuth   = "com.zgamelogic.auth"
	keyDevice = "com.zgamelogic.PlannerBot"
)

// ErrCorrupt wraps a persisted value that no longer decodes.
var ErrCorrupt = errors.New("vault: corrupt entry")

// Keyvault holds the device identifier, the auth bundle and the last fetched
// plans on top of a Store.
type Keyvault struct {
	store Store
	mu    sync.Mutex
}

func New(store Store) *Keyvault {
	return &Keyvault{store: store}
}

// DeviceID returns the identifier of this install, generating and persisting
// one on first use.
func (k *Keyvault) DeviceID() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, err := k.store.Get(bucketKeyvault, keyDevice)
	if err == nil && len(v) > 0 {
		return string(v), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := k.store.Put(bucketKeyvault, keyDevice, []byte(id)); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}

// LoadAuth returns the persisted auth bundle, ErrNotFound when there is none,
// or an error wrapping ErrCorrupt when it does not decode.
func (k *Keyvault) LoadAuth() (*model.Auth, error) {
	v, err := k.store.Get(bucketKeyvault, keyAuth)
	if err != nil {
		return nil, err
	}
	var a model.Auth
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, fmt.Errorf("%w: auth: %v", ErrCorrupt, err)
	}
	return &a, nil
}

func (k *Keyvault) SaveAuth(a model.Auth) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return k.store.Put(bucketKeyvault, keyAuth, data)
}

func (k *Keyvault) DeleteAuth() error {
	return k.store.Delete(bucketKeyvault, keyAuth)
}

type snapshot struct {
	SavedAt time.Time     `json:"saved_at"`
	Events  []model.Event `json:"events"`
}

// SaveSnapshot records the plans last fetched for userID.
func (k *Keyvault) SaveSnapshot(userID int64, events []model.Event, at time.Time) error {
	if events == nil {
		events = []model.Event{}
	}
	data, err := json.Marshal(snapshot{SavedAt: at.UTC(), Events: events})
	if err != nil {
		return err
	}
	return k.store.Put(bucketSnapshot, strconv.FormatInt(userID, 10), data)
}

// LoadSnapshot returns the plans saved for userID and when they were saved.
func (k *Keyvault) LoadSnapshot(userID int64) ([]model.Event, time.Time, error) {
	v, err := k.store.Get(bucketSnapshot, strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, time.Time{}, err
	}
	var s snapshot
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: snapshot: %v", ErrCorrupt, err)
	}
	model.SortEvents(s.Events)
	return s.Events, s.SavedAt, nil
}

// DeleteSnapshot drops the saved plans for userID.
func (k *Keyvault) DeleteSnapshot(userID int64) error {
	return k.store.Delete(bucketSnapshot, strconv.FormatInt(userID, 10))
}

func (k *Keyvault) Close() error {
	return k.store.Close()
}
